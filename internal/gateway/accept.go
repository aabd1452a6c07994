// Package gateway implements the ingest component (C3): a single Accept
// core shared by the HTTP and grpc ingress surfaces.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitalmesh/pulsegrid/internal/broker"
	"github.com/vitalmesh/pulsegrid/internal/config"
	"github.com/vitalmesh/pulsegrid/internal/envelope"
	"github.com/vitalmesh/pulsegrid/internal/lineage"
	"github.com/vitalmesh/pulsegrid/internal/observability"
	"github.com/vitalmesh/pulsegrid/internal/registryrpc"
)

// Status values returned by Accept, shared by both ingress transports.
const (
	StatusAccepted        = "accepted"
	StatusValidationError = "validation_error"
	StatusDeviceNotFound  = "device_not_found"
	StatusInternalError   = "internal_error"
)

// AcceptRequest is the transport-agnostic ingestion request both the HTTP
// handler and the grpc server build before calling Accept.
type AcceptRequest struct {
	DeviceID     string
	DeviceType   string
	Timestamp    string // ISO-8601 or Unix seconds/milliseconds, optional
	Measurements []envelope.Measurement
	Metadata     *envelope.DeviceMetadata
}

// AcceptResult is the outcome of Accept.
type AcceptResult struct {
	EventID string
	Status  string
	Reason  string
}

// Service implements the Gateway's shared ingest core: one Accept core so
// validation/publish logic is not duplicated between transports.
type Service struct {
	publisher *broker.Publisher
	registry  registryrpc.Client
	cfg       config.GatewayConfig
	logger    *zap.Logger
	metrics   *observability.Metrics
	lineage   *lineage.Auditor
}

// NewService constructs a Service. registry may be nil if device
// verification is disabled; auditor may be nil (lineage audit disabled).
func NewService(publisher *broker.Publisher, registry registryrpc.Client, cfg config.GatewayConfig, logger *zap.Logger, metrics *observability.Metrics, auditor *lineage.Auditor) *Service {
	return &Service{publisher: publisher, registry: registry, cfg: cfg, logger: logger, metrics: metrics, lineage: auditor}
}

// Accept validates req, optionally verifies the device against the
// Registry, and publishes a RawTelemetry event to the raw topic.
func (s *Service) Accept(ctx context.Context, req AcceptRequest) (AcceptResult, error) {
	start := time.Now()
	result, err := s.accept(ctx, req)
	s.observe(result.Status, time.Since(start))
	return result, err
}

func (s *Service) accept(ctx context.Context, req AcceptRequest) (AcceptResult, error) {
	if req.DeviceID == "" {
		return s.reject("device_id is required"), nil
	}
	if len(req.Measurements) == 0 {
		return s.reject("at least one measurement is required"), nil
	}

	ts := time.Now().UTC()
	if req.Timestamp != "" {
		parsed, ok := envelope.ParseFlexibleTimestamp(req.Timestamp)
		if !ok {
			return s.reject(fmt.Sprintf("malformed timestamp: %q", req.Timestamp)), nil
		}
		ts = parsed
	}

	if s.cfg.VerifyDevice && s.registry != nil {
		if notFound, reason, ok := s.verifyDevice(ctx, req.DeviceID); !ok {
			if notFound {
				if s.metrics != nil {
					s.metrics.ValidationErrors.WithLabelValues("gateway", reason).Inc()
				}
				return AcceptResult{Status: StatusDeviceNotFound, Reason: reason}, nil
			}
			return s.reject(reason), nil
		}
	}

	eventID := uuid.NewString()
	traceID := uuid.NewString()

	raw := envelope.RawTelemetry{
		EventEnvelope: envelope.EventEnvelope{
			EventID:   eventID,
			TraceID:   traceID,
			EventType: envelope.EventTypeRaw,
			Version:   envelope.SchemaVersion,
			Timestamp: ts,
		},
		DeviceID:        req.DeviceID,
		DeviceTimestamp: req.Timestamp,
		Measurements:    req.Measurements,
		Metadata:        req.Metadata,
	}

	if s.lineage != nil {
		s.lineage.Record(traceID, "gateway", eventID, "")
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		return AcceptResult{Status: StatusInternalError, Reason: err.Error()}, err
	}

	if err := s.publisher.Publish(ctx, envelope.TopicRaw, req.DeviceID, eventID, payload); err != nil {
		s.logger.Error("gateway: publish failed", zap.Error(err), zap.String("event_id", eventID))
		return AcceptResult{Status: StatusInternalError, Reason: "failed to publish event"}, err
	}

	return AcceptResult{EventID: eventID, Status: StatusAccepted}, nil
}

// verifyDevice checks the device against the Registry. A Registry that is
// unreachable fails open (the device is accepted anyway) so a Registry
// outage never blocks ingestion. A Registry that explicitly reports the
// device unknown rejects the submission with notFound=true, distinct from
// a validation failure — device_not_found is its own status code.
func (s *Service) verifyDevice(ctx context.Context, deviceID string) (notFound bool, reason string, ok bool) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.Registry.Timeout())
	defer cancel()

	resp, err := s.registry.GetDevice(lookupCtx, &registryrpc.GetDeviceRequest{DeviceID: deviceID})
	if err != nil {
		s.logger.Warn("gateway: registry unreachable, failing open", zap.Error(err), zap.String("device_id", deviceID))
		return false, "", true
	}

	switch resp.Status {
	case registryrpc.StatusSuccess:
		return false, "", true
	case registryrpc.StatusNotFound:
		return true, "unknown device_id", false
	default:
		s.logger.Warn("gateway: registry returned unexpected status, failing open",
			zap.String("status", resp.Status), zap.String("device_id", deviceID))
		return false, "", true
	}
}

func (s *Service) reject(reason string) AcceptResult {
	if s.metrics != nil {
		s.metrics.ValidationErrors.WithLabelValues("gateway", reason).Inc()
	}
	return AcceptResult{Status: StatusValidationError, Reason: reason}
}

func (s *Service) observe(status string, d time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.EventsProcessed.WithLabelValues("gateway", status).Inc()
	s.metrics.ProcessingDuration.WithLabelValues("gateway").Observe(d.Seconds())
}
