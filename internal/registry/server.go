package registry

import (
	"context"

	"go.uber.org/zap"

	"github.com/vitalmesh/pulsegrid/internal/registryrpc"
)

// Server implements registryrpc.Server over a Store.
type Server struct {
	registryrpc.UnimplementedServer
	store  *Store
	logger *zap.Logger
}

// NewServer constructs a Server.
func NewServer(store *Store, logger *zap.Logger) *Server {
	return &Server{store: store, logger: logger}
}

var _ registryrpc.Server = (*Server)(nil)

// GetDevice resolves a device by id.
func (s *Server) GetDevice(ctx context.Context, req *registryrpc.GetDeviceRequest) (*registryrpc.GetDeviceResponse, error) {
	if req.DeviceID == "" {
		return &registryrpc.GetDeviceResponse{Status: registryrpc.StatusInvalidRequest, Error: "device_id is required"}, nil
	}

	d, ok := s.store.GetDevice(req.DeviceID)
	if !ok {
		return &registryrpc.GetDeviceResponse{Status: registryrpc.StatusNotFound}, nil
	}

	return &registryrpc.GetDeviceResponse{
		Status: registryrpc.StatusSuccess,
		Device: &registryrpc.Device{DeviceID: d.DeviceID, PatientID: d.PatientID},
	}, nil
}

// GetPatient resolves a patient by id.
func (s *Server) GetPatient(ctx context.Context, req *registryrpc.GetPatientRequest) (*registryrpc.GetPatientResponse, error) {
	if req.PatientID == "" {
		return &registryrpc.GetPatientResponse{Status: registryrpc.StatusInvalidRequest, Error: "patient_id is required"}, nil
	}

	p, ok := s.store.GetPatient(req.PatientID)
	if !ok {
		return &registryrpc.GetPatientResponse{Status: registryrpc.StatusNotFound}, nil
	}

	return &registryrpc.GetPatientResponse{
		Status: registryrpc.StatusSuccess,
		Patient: &registryrpc.Patient{
			PatientID: p.PatientID,
			Profile:   envelopePatientProfile(p),
		},
	}, nil
}

// GetThresholdProfile resolves a patient's effective threshold profile,
// preferring a device-specific override.
func (s *Server) GetThresholdProfile(ctx context.Context, req *registryrpc.GetThresholdProfileRequest) (*registryrpc.GetThresholdProfileResponse, error) {
	if req.PatientID == "" {
		return &registryrpc.GetThresholdProfileResponse{Status: registryrpc.StatusInvalidRequest, Error: "patient_id is required"}, nil
	}

	result, ok := s.store.GetThresholdProfile(req.PatientID, req.DeviceID)
	if !ok {
		return &registryrpc.GetThresholdProfileResponse{Status: registryrpc.StatusNotFound}, nil
	}

	profile := result.Profile
	return &registryrpc.GetThresholdProfileResponse{
		Status:  registryrpc.StatusSuccess,
		Profile: &profile,
	}, nil
}
