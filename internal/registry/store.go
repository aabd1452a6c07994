// Package registry implements the synchronous Registry service (C1):
// read-only lookups for devices, patients, and per-patient/per-device
// threshold profiles.
package registry

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/vitalmesh/pulsegrid/internal/envelope"
)

// Device mirrors one device's registry entry.
type Device struct {
	DeviceID  string `yaml:"device_id"`
	PatientID string `yaml:"patient_id"`
}

// Patient mirrors one patient's registry entry.
type Patient struct {
	PatientID string                  `yaml:"patient_id"`
	Age       int                     `yaml:"age"`
	Sex       string                  `yaml:"sex"`
	Default   envelope.ThresholdProfile `yaml:"default_thresholds"`
}

// DeviceThresholds is an optional device-specific override of a patient's
// default threshold profile: the device profile wins when present, the
// patient default otherwise.
type DeviceThresholds struct {
	DeviceID   string                    `yaml:"device_id"`
	Thresholds envelope.ThresholdProfile `yaml:"thresholds"`
}

// SeedData is the YAML shape loaded at startup.
type SeedData struct {
	Devices           []Device           `yaml:"devices"`
	Patients          []Patient          `yaml:"patients"`
	DeviceThresholds  []DeviceThresholds `yaml:"device_thresholds"`
}

// Store is an in-memory, read-only-after-load registry of devices,
// patients, and threshold profiles.
type Store struct {
	mu         sync.RWMutex
	devices    map[string]Device
	patients   map[string]Patient
	deviceThr  map[string]envelope.ThresholdProfile
}

// NewStore builds an empty Store.
func NewStore() *Store {
	return &Store{
		devices:   make(map[string]Device),
		patients:  make(map[string]Patient),
		deviceThr: make(map[string]envelope.ThresholdProfile),
	}
}

// LoadSeedFile reads and parses a YAML seed file, replacing the Store's
// contents. Configuration (including seed data) is consumed once at
// startup.
func (s *Store) LoadSeedFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("registry: reading seed file: %w", err)
	}

	var seed SeedData
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("registry: parsing seed file: %w", err)
	}

	devices := make(map[string]Device, len(seed.Devices))
	for _, d := range seed.Devices {
		devices[d.DeviceID] = d
	}

	patients := make(map[string]Patient, len(seed.Patients))
	for _, p := range seed.Patients {
		patients[p.PatientID] = p
	}

	deviceThr := make(map[string]envelope.ThresholdProfile, len(seed.DeviceThresholds))
	for _, dt := range seed.DeviceThresholds {
		deviceThr[dt.DeviceID] = dt.Thresholds
	}

	s.mu.Lock()
	s.devices = devices
	s.patients = patients
	s.deviceThr = deviceThr
	s.mu.Unlock()

	return nil
}

// GetDevice returns the device with the given id.
func (s *Store) GetDevice(deviceID string) (Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[deviceID]
	return d, ok
}

// GetPatient returns the patient with the given id.
func (s *Store) GetPatient(patientID string) (Patient, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[patientID]
	return p, ok
}

// ThresholdProfileResult is a resolved threshold profile plus which source
// produced it.
type ThresholdProfileResult struct {
	Profile envelope.ThresholdProfile
	Source  string // "device" or "patient"
}

// GetThresholdProfile resolves thresholds for a patient, preferring a
// device-specific override when deviceID is non-empty and one exists,
// falling back to the patient's default profile otherwise.
func (s *Store) GetThresholdProfile(patientID, deviceID string) (ThresholdProfileResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if deviceID != "" {
		if thr, ok := s.deviceThr[deviceID]; ok {
			thr.PatientID = patientID
			thr.DeviceID = deviceID
			thr.Source = "device"
			return ThresholdProfileResult{Profile: thr, Source: "device"}, true
		}
	}

	p, ok := s.patients[patientID]
	if !ok {
		return ThresholdProfileResult{}, false
	}
	profile := p.Default
	profile.PatientID = patientID
	profile.DeviceID = deviceID
	profile.Source = "patient"
	return ThresholdProfileResult{Profile: profile, Source: "patient"}, true
}
