package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vitalmesh/pulsegrid/internal/config"
	"github.com/vitalmesh/pulsegrid/internal/envelope"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestTelemetryRequestMeasurementsMapsImplicitUnits(t *testing.T) {
	req := telemetryRequest{Metrics: map[string]float64{"hr": 72, "spo2": 98, "temp": 99.1}}

	measurements := req.measurements()
	got := map[string]envelope.Measurement{}
	for _, m := range measurements {
		got[m.Metric] = m
	}

	if got[envelope.MetricHeartRate].Unit != "bpm" {
		t.Fatalf("expected hr to map to bpm, got %q", got[envelope.MetricHeartRate].Unit)
	}
	if got[envelope.MetricOxygenSaturation].Unit != "%" {
		t.Fatalf("expected spo2 to map to %%, got %q", got[envelope.MetricOxygenSaturation].Unit)
	}
	if got[envelope.MetricTemperature].Unit != "fahrenheit" {
		t.Fatalf("expected temp to map to fahrenheit, got %q", got[envelope.MetricTemperature].Unit)
	}
}

func TestTelemetryRequestDeviceMetadataNilWhenMetaAbsent(t *testing.T) {
	req := telemetryRequest{Metrics: map[string]float64{"hr": 72}}
	if req.deviceMetadata() != nil {
		t.Fatalf("expected nil device metadata when meta is absent")
	}
}

func TestTelemetryRequestDeviceMetadataCarriesBatteryAndFirmware(t *testing.T) {
	battery := 87
	req := telemetryRequest{Meta: &telemetryMeta{Battery: &battery, Firmware: "1.2.3"}}

	meta := req.deviceMetadata()
	if meta == nil {
		t.Fatalf("expected non-nil device metadata")
	}
	if meta.Battery != 87 || meta.Firmware != "1.2.3" {
		t.Fatalf("expected battery=87 firmware=1.2.3, got %+v", meta)
	}
}

func newTestRouter() (*gin.Engine, *Service) {
	svc := NewService(nil, nil, config.GatewayConfig{}, zap.NewNop(), nil, nil)
	router := gin.New()
	svc.RegisterHTTP(router)
	return router, svc
}

func TestHandleTelemetryRejectsMissingBody(t *testing.T) {
	router, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/telemetry", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a body missing required fields, got %d", rec.Code)
	}
	var resp telemetryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Success {
		t.Fatalf("expected success=false")
	}
}

func TestHandleTelemetryRejectsEmptyMetrics(t *testing.T) {
	router, _ := newTestRouter()

	body, _ := json.Marshal(telemetryRequest{DeviceID: "D1", Metrics: map[string]float64{}})
	req := httptest.NewRequest(http.MethodPost, "/telemetry", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero measurements, got %d", rec.Code)
	}
}
