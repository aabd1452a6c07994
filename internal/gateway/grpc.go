package gateway

import (
	"context"
	"time"

	"github.com/vitalmesh/pulsegrid/internal/envelope"
	"github.com/vitalmesh/pulsegrid/internal/gatewayrpc"
)

// GRPCServer adapts Service to gatewayrpc.Server, the programmatic sibling
// of the HTTP POST /telemetry surface.
type GRPCServer struct {
	gatewayrpc.UnimplementedServer
	svc *Service
}

// NewGRPCServer wraps svc for grpc registration.
func NewGRPCServer(svc *Service) *GRPCServer {
	return &GRPCServer{svc: svc}
}

var _ gatewayrpc.Server = (*GRPCServer)(nil)

// SendMeasurements is the grpc equivalent of POST /telemetry.
func (g *GRPCServer) SendMeasurements(ctx context.Context, req *gatewayrpc.SendMeasurementsRequest) (*gatewayrpc.SendMeasurementsResponse, error) {
	measurements := make([]envelope.Measurement, 0, len(req.Measurements))
	for _, m := range req.Measurements {
		measurements = append(measurements, envelope.Measurement{Metric: m.Metric, Value: m.Value, Unit: m.Unit})
	}

	result, err := g.svc.Accept(ctx, AcceptRequest{
		DeviceID:     req.DeviceID,
		DeviceType:   req.DeviceType,
		Timestamp:    req.Timestamp,
		Measurements: measurements,
		Metadata:     req.DeviceMetadata,
	})
	now := time.Now().UTC().Format(time.RFC3339)
	if err != nil {
		return &gatewayrpc.SendMeasurementsResponse{Version: envelope.SchemaVersion, Status: gatewayrpc.StatusInternalError, Message: result.Reason, Timestamp: now}, nil
	}

	switch result.Status {
	case StatusAccepted:
		return &gatewayrpc.SendMeasurementsResponse{Version: envelope.SchemaVersion, Status: gatewayrpc.StatusSuccess, EventID: result.EventID, Timestamp: now}, nil
	case StatusDeviceNotFound:
		return &gatewayrpc.SendMeasurementsResponse{Version: envelope.SchemaVersion, Status: gatewayrpc.StatusDeviceNotFound, Message: result.Reason, Timestamp: now}, nil
	case StatusValidationError:
		return &gatewayrpc.SendMeasurementsResponse{Version: envelope.SchemaVersion, Status: gatewayrpc.StatusValidationError, Message: result.Reason, Timestamp: now}, nil
	default:
		return &gatewayrpc.SendMeasurementsResponse{Version: envelope.SchemaVersion, Status: gatewayrpc.StatusInternalError, Message: result.Reason, Timestamp: now}, nil
	}
}
