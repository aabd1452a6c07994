package enricher

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/vitalmesh/pulsegrid/internal/config"
	"github.com/vitalmesh/pulsegrid/internal/envelope"
	"github.com/vitalmesh/pulsegrid/internal/registryrpc"
)

// fakeRegistryClient is a hand-rolled stand-in for the generated grpc
// client, letting tests script the Registry's responses without a network.
type fakeRegistryClient struct {
	device     *registryrpc.GetDeviceResponse
	patient    *registryrpc.GetPatientResponse
	thresholds *registryrpc.GetThresholdProfileResponse
	err        error
	deviceErr  error
}

func (f *fakeRegistryClient) GetDevice(context.Context, *registryrpc.GetDeviceRequest, ...grpc.CallOption) (*registryrpc.GetDeviceResponse, error) {
	if f.deviceErr != nil {
		return nil, f.deviceErr
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.device, nil
}

func (f *fakeRegistryClient) GetPatient(context.Context, *registryrpc.GetPatientRequest, ...grpc.CallOption) (*registryrpc.GetPatientResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.patient, nil
}

func (f *fakeRegistryClient) GetThresholdProfile(context.Context, *registryrpc.GetThresholdProfileRequest, ...grpc.CallOption) (*registryrpc.GetThresholdProfileResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.thresholds, nil
}

func fastConfig() config.EnricherConfig {
	return config.EnricherConfig{Registry: config.RPCPeerConfig{RetryCount: 1, RetryDelayMS: 1, TimeoutMS: 1000}}
}

func normalizedInput() envelope.NormalizedTelemetry {
	return envelope.NormalizedTelemetry{
		EventEnvelope: envelope.EventEnvelope{EventID: "evt-1", TraceID: "trace-1"},
		DeviceID:      "D1",
		Vitals:        map[string]envelope.Vital{envelope.MetricHeartRate: {Value: 75}},
	}
}

func TestEnrichFullSuccess(t *testing.T) {
	registry := &fakeRegistryClient{
		device:  &registryrpc.GetDeviceResponse{Status: registryrpc.StatusSuccess, Device: &registryrpc.Device{DeviceID: "D1", PatientID: "P1"}},
		patient: &registryrpc.GetPatientResponse{Status: registryrpc.StatusSuccess, Patient: &registryrpc.Patient{PatientID: "P1", Profile: envelope.PatientProfile{Age: 67, Sex: "female"}}},
		thresholds: &registryrpc.GetThresholdProfileResponse{
			Status:  registryrpc.StatusSuccess,
			Profile: &envelope.ThresholdProfile{PatientID: "P1", HeartRate: envelope.ThresholdRange{Min: 60, Max: 100}},
		},
	}
	e := New(registry, fastConfig(), zap.NewNop(), nil)

	out := e.Enrich(context.Background(), normalizedInput())

	if out.Orphan {
		t.Fatalf("expected a fully resolved event to not be an orphan")
	}
	if out.PatientID != "P1" {
		t.Fatalf("expected patient_id=P1, got %q", out.PatientID)
	}
	if out.PatientProfile == nil || out.PatientProfile.Age != 67 {
		t.Fatalf("expected patient profile to be attached, got %+v", out.PatientProfile)
	}
	if out.Thresholds == nil {
		t.Fatalf("expected thresholds to be attached")
	}
	want := []string{"device", "patient", "thresholds"}
	if len(out.EnrichmentMetadata.EnrichmentSources) != len(want) {
		t.Fatalf("expected enrichment sources %v, got %v", want, out.EnrichmentMetadata.EnrichmentSources)
	}
	if out.SourceEventID != "evt-1" {
		t.Fatalf("expected source_event_id chained from input, got %q", out.SourceEventID)
	}
}

func TestEnrichUnknownDeviceIsOrphan(t *testing.T) {
	registry := &fakeRegistryClient{
		device: &registryrpc.GetDeviceResponse{Status: registryrpc.StatusNotFound},
	}
	e := New(registry, fastConfig(), zap.NewNop(), nil)

	out := e.Enrich(context.Background(), normalizedInput())

	if !out.Orphan {
		t.Fatalf("expected an unresolvable device to produce an orphan event")
	}
	if out.PatientProfile != nil || out.Thresholds != nil {
		t.Fatalf("expected no patient profile or thresholds for an orphan device, got profile=%+v thresholds=%+v", out.PatientProfile, out.Thresholds)
	}
}

func TestEnrichRegistryUnreachableDegradesToOrphan(t *testing.T) {
	registry := &fakeRegistryClient{err: context.DeadlineExceeded}
	e := New(registry, fastConfig(), zap.NewNop(), nil)

	out := e.Enrich(context.Background(), normalizedInput())

	if !out.Orphan {
		t.Fatalf("expected a fully unreachable registry to degrade the event to orphan")
	}
}

func TestEnrichDeviceLookupFailsButInputCarriesPatientID(t *testing.T) {
	registry := &fakeRegistryClient{
		deviceErr: context.DeadlineExceeded,
		patient:   &registryrpc.GetPatientResponse{Status: registryrpc.StatusSuccess, Patient: &registryrpc.Patient{PatientID: "P1", Profile: envelope.PatientProfile{Age: 40, Sex: "male"}}},
		thresholds: &registryrpc.GetThresholdProfileResponse{
			Status:  registryrpc.StatusSuccess,
			Profile: &envelope.ThresholdProfile{PatientID: "P1", HeartRate: envelope.ThresholdRange{Min: 60, Max: 100}},
		},
	}
	e := New(registry, fastConfig(), zap.NewNop(), nil)

	in := normalizedInput()
	in.PatientID = "P1"
	out := e.Enrich(context.Background(), in)

	if out.Orphan {
		t.Fatalf("expected the carried patient_id to keep the event out of orphan status, got orphan=true")
	}
	if out.PatientID != "P1" {
		t.Fatalf("expected patient_id carried from the normalized input to be kept, got %q", out.PatientID)
	}
	if out.PatientProfile == nil || out.PatientProfile.Age != 40 {
		t.Fatalf("expected patient lookup to still run using the carried patient_id, got %+v", out.PatientProfile)
	}
	if out.Thresholds == nil {
		t.Fatalf("expected threshold lookup to still run using the carried patient_id")
	}
	for _, s := range out.EnrichmentMetadata.EnrichmentSources {
		if s == "device" {
			t.Fatalf("did not expect a failed device lookup to be recorded as a source, got %v", out.EnrichmentMetadata.EnrichmentSources)
		}
	}
}

func TestEnrichPatientNotFoundStillOrphanButKeepsDeviceSource(t *testing.T) {
	registry := &fakeRegistryClient{
		device:  &registryrpc.GetDeviceResponse{Status: registryrpc.StatusSuccess, Device: &registryrpc.Device{DeviceID: "D1", PatientID: "P1"}},
		patient: &registryrpc.GetPatientResponse{Status: registryrpc.StatusNotFound},
		thresholds: &registryrpc.GetThresholdProfileResponse{
			Status:  registryrpc.StatusSuccess,
			Profile: &envelope.ThresholdProfile{PatientID: "P1"},
		},
	}
	e := New(registry, fastConfig(), zap.NewNop(), nil)

	out := e.Enrich(context.Background(), normalizedInput())

	if !out.Orphan {
		t.Fatalf("expected a missing patient profile to mark the event orphan")
	}
	if out.PatientID != "P1" {
		t.Fatalf("expected patient_id resolved from the device lookup to still be set, got %q", out.PatientID)
	}
	found := false
	for _, s := range out.EnrichmentMetadata.EnrichmentSources {
		if s == "device" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the device lookup to still be recorded as a source, got %v", out.EnrichmentMetadata.EnrichmentSources)
	}
}
