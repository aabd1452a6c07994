package gateway

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
// client, used to drive Accept's device-verification branch without a
// network dependency.
type fakeRegistryClient struct {
	getDeviceResp *registryrpc.GetDeviceResponse
	getDeviceErr  error
}

func (f *fakeRegistryClient) GetDevice(ctx context.Context, req *registryrpc.GetDeviceRequest, _ ...grpc.CallOption) (*registryrpc.GetDeviceResponse, error) {
	if f.getDeviceErr != nil {
		return nil, f.getDeviceErr
	}
	return f.getDeviceResp, nil
}

func (f *fakeRegistryClient) GetPatient(ctx context.Context, req *registryrpc.GetPatientRequest, _ ...grpc.CallOption) (*registryrpc.GetPatientResponse, error) {
	return &registryrpc.GetPatientResponse{Status: registryrpc.StatusNotFound}, nil
}

func (f *fakeRegistryClient) GetThresholdProfile(ctx context.Context, req *registryrpc.GetThresholdProfileRequest, _ ...grpc.CallOption) (*registryrpc.GetThresholdProfileResponse, error) {
	return &registryrpc.GetThresholdProfileResponse{Status: registryrpc.StatusNotFound}, nil
}

func TestAcceptRejectsMissingDeviceID(t *testing.T) {
	svc := NewService(nil, nil, config.GatewayConfig{}, zap.NewNop(), nil, nil)

	result, err := svc.Accept(context.Background(), AcceptRequest{
		Measurements: []envelope.Measurement{{Metric: "hr", Value: 72, Unit: "bpm"}},
	})
	if err != nil {
		t.Fatalf("expected no transport error, got %v", err)
	}
	if result.Status != StatusValidationError {
		t.Fatalf("expected validation_error, got %q", result.Status)
	}
}

func TestAcceptRejectsEmptyMeasurements(t *testing.T) {
	svc := NewService(nil, nil, config.GatewayConfig{}, zap.NewNop(), nil, nil)

	result, _ := svc.Accept(context.Background(), AcceptRequest{DeviceID: "D1"})
	if result.Status != StatusValidationError {
		t.Fatalf("expected validation_error for zero measurements, got %q", result.Status)
	}
}

func TestAcceptRejectsMalformedTimestamp(t *testing.T) {
	svc := NewService(nil, nil, config.GatewayConfig{}, zap.NewNop(), nil, nil)

	result, _ := svc.Accept(context.Background(), AcceptRequest{
		DeviceID:     "D1",
		Timestamp:    "not-a-timestamp",
		Measurements: []envelope.Measurement{{Metric: "hr", Value: 72, Unit: "bpm"}},
	})
	if result.Status != StatusValidationError {
		t.Fatalf("expected validation_error for a malformed timestamp, got %q", result.Status)
	}
}

func TestAcceptDeviceNotFoundIsDistinctFromValidationError(t *testing.T) {
	registry := &fakeRegistryClient{getDeviceResp: &registryrpc.GetDeviceResponse{Status: registryrpc.StatusNotFound}}
	svc := NewService(nil, registry, config.GatewayConfig{VerifyDevice: true}, zap.NewNop(), nil, nil)

	result, err := svc.Accept(context.Background(), AcceptRequest{
		DeviceID:     "unknown-device",
		Measurements: []envelope.Measurement{{Metric: "hr", Value: 72, Unit: "bpm"}},
	})
	if err != nil {
		t.Fatalf("expected no transport error, got %v", err)
	}
	if result.Status != StatusDeviceNotFound {
		t.Fatalf("expected device_not_found, got %q", result.Status)
	}
}

func TestVerifyDeviceFailsOpenWhenRegistryUnreachable(t *testing.T) {
	registry := &fakeRegistryClient{getDeviceErr: context.DeadlineExceeded}
	svc := NewService(nil, registry, config.GatewayConfig{VerifyDevice: true}, zap.NewNop(), nil, nil)

	notFound, _, ok := svc.verifyDevice(context.Background(), "D1")
	if notFound {
		t.Fatalf("expected an unreachable registry to never report not-found")
	}
	if !ok {
		t.Fatalf("expected an unreachable registry to fail open (ok=true)")
	}
}

func TestVerifyDeviceSuccess(t *testing.T) {
	registry := &fakeRegistryClient{getDeviceResp: &registryrpc.GetDeviceResponse{
		Status: registryrpc.StatusSuccess,
		Device: &registryrpc.Device{DeviceID: "D1", PatientID: "P1"},
	}}
	svc := NewService(nil, registry, config.GatewayConfig{VerifyDevice: true}, zap.NewNop(), nil, nil)

	notFound, reason, ok := svc.verifyDevice(context.Background(), "D1")
	if notFound || !ok || reason != "" {
		t.Fatalf("expected a clean success, got notFound=%v ok=%v reason=%q", notFound, ok, reason)
	}
}
