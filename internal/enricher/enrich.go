// Package enricher implements the Enricher (C5): three ordered Registry
// lookups — device, patient, threshold profile — folded into an
// EnrichedTelemetry, degrading to an orphan marker rather than failing the
// event when the Registry can't resolve a device or is unreachable (spec
// §4.3).
package enricher

import (
	"context"

	"go.uber.org/zap"

	"github.com/vitalmesh/pulsegrid/internal/config"
	"github.com/vitalmesh/pulsegrid/internal/envelope"
	"github.com/vitalmesh/pulsegrid/internal/observability"
	"github.com/vitalmesh/pulsegrid/internal/registryrpc"
)

// Enricher resolves device/patient/threshold context for a NormalizedTelemetry.
type Enricher struct {
	registry registryrpc.Client
	cfg      config.EnricherConfig
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// New constructs an Enricher.
func New(registry registryrpc.Client, cfg config.EnricherConfig, logger *zap.Logger, metrics *observability.Metrics) *Enricher {
	return &Enricher{registry: registry, cfg: cfg, logger: logger, metrics: metrics}
}

// Enrich performs the three ordered lookups, never failing the event: a
// lookup that errors out after retries, or resolves to not-found, simply
// leaves its contribution absent and flags the event an orphan.
func (e *Enricher) Enrich(ctx context.Context, in envelope.NormalizedTelemetry) envelope.EnrichedTelemetry {
	out := envelope.EnrichedTelemetry{
		NormalizedTelemetry: in,
		EnrichmentMetadata:  envelope.EnrichmentMetadata{},
	}
	out.EventType = envelope.EventTypeEnriched
	out.SourceEventID = in.EventID

	patientID, ok := e.lookupDevice(ctx, in.DeviceID)
	if ok {
		out.EnrichmentMetadata.EnrichmentSources = append(out.EnrichmentMetadata.EnrichmentSources, "device")
	} else if in.PatientID != "" {
		// Device lookup failed or didn't resolve a patient, but the
		// normalized event already carries one (spec §4.3 step 1: "If not
		// found and the input already carries patient_id, keep it").
		patientID = in.PatientID
	} else {
		out.Orphan = true
		return out
	}
	out.PatientID = patientID

	profile, ok := e.lookupPatient(ctx, patientID)
	if ok {
		out.PatientProfile = profile
		out.EnrichmentMetadata.EnrichmentSources = append(out.EnrichmentMetadata.EnrichmentSources, "patient")
	} else {
		out.Orphan = true
	}

	thresholds, ok := e.lookupThresholds(ctx, patientID, in.DeviceID)
	if ok {
		out.Thresholds = thresholds
		out.EnrichmentMetadata.EnrichmentSources = append(out.EnrichmentMetadata.EnrichmentSources, "thresholds")
	} else {
		out.Orphan = true
	}

	return out
}

func (e *Enricher) lookupDevice(ctx context.Context, deviceID string) (string, bool) {
	var patientID string
	err := e.callWithRetry(ctx, func(callCtx context.Context) error {
		resp, err := e.registry.GetDevice(callCtx, &registryrpc.GetDeviceRequest{DeviceID: deviceID})
		if err != nil {
			return err
		}
		if resp.Status != registryrpc.StatusSuccess {
			return errNotFound
		}
		patientID = resp.Device.PatientID
		return nil
	})
	if err != nil {
		e.logger.Warn("enricher: device lookup degraded", zap.String("device_id", deviceID), zap.Error(err))
		return "", false
	}
	return patientID, true
}

func (e *Enricher) lookupPatient(ctx context.Context, patientID string) (*envelope.PatientProfile, bool) {
	var profile envelope.PatientProfile
	err := e.callWithRetry(ctx, func(callCtx context.Context) error {
		resp, err := e.registry.GetPatient(callCtx, &registryrpc.GetPatientRequest{PatientID: patientID})
		if err != nil {
			return err
		}
		if resp.Status != registryrpc.StatusSuccess {
			return errNotFound
		}
		profile = resp.Patient.Profile
		return nil
	})
	if err != nil {
		e.logger.Warn("enricher: patient lookup degraded", zap.String("patient_id", patientID), zap.Error(err))
		return nil, false
	}
	return &profile, true
}

func (e *Enricher) lookupThresholds(ctx context.Context, patientID, deviceID string) (*envelope.ThresholdProfile, bool) {
	var thresholds envelope.ThresholdProfile
	err := e.callWithRetry(ctx, func(callCtx context.Context) error {
		resp, err := e.registry.GetThresholdProfile(callCtx, &registryrpc.GetThresholdProfileRequest{PatientID: patientID, DeviceID: deviceID})
		if err != nil {
			return err
		}
		if resp.Status != registryrpc.StatusSuccess || resp.Profile == nil {
			return errNotFound
		}
		thresholds = *resp.Profile
		return nil
	})
	if err != nil {
		e.logger.Warn("enricher: threshold lookup degraded", zap.String("patient_id", patientID), zap.Error(err))
		return nil, false
	}
	return &thresholds, true
}

func (e *Enricher) callWithRetry(ctx context.Context, fn func(context.Context) error) error {
	rpcCfg := e.cfg.Registry
	return withRetry(ctx, rpcCfg.Retries(), rpcCfg.RetryDelay(), rpcCfg.Timeout(), fn)
}

var errNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "registry: entity not found" }
