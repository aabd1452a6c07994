package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vitalmesh/pulsegrid/internal/envelope"
)

// telemetryRequest is the POST /telemetry JSON body:
// `{deviceId, timestamp, metrics:{hr?, spo2?, temp?}, meta?:{battery?, firmware?}}`.
// metrics values carry no explicit unit: hr is bpm, spo2 is percent, and
// temp is Fahrenheit — this HTTP surface's one implicit-unit convention.
type telemetryRequest struct {
	DeviceID  string             `json:"deviceId" binding:"required"`
	Timestamp string             `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics" binding:"required"`
	Meta      *telemetryMeta     `json:"meta"`
}

type telemetryMeta struct {
	Battery  *int   `json:"battery,omitempty"`
	Firmware string `json:"firmware,omitempty"`
}

// telemetryMetricUnits maps the HTTP shorthand metric keys to their
// canonical metric name and implied unit.
var telemetryMetricUnits = map[string]struct {
	metric string
	unit   string
}{
	"hr":   {metric: envelope.MetricHeartRate, unit: "bpm"},
	"spo2": {metric: envelope.MetricOxygenSaturation, unit: "%"},
	"temp": {metric: envelope.MetricTemperature, unit: "fahrenheit"},
}

func (r telemetryRequest) measurements() []envelope.Measurement {
	out := make([]envelope.Measurement, 0, len(r.Metrics))
	for key, value := range r.Metrics {
		mapping, ok := telemetryMetricUnits[key]
		if !ok {
			out = append(out, envelope.Measurement{Metric: key, Value: value})
			continue
		}
		out = append(out, envelope.Measurement{Metric: mapping.metric, Value: value, Unit: mapping.unit})
	}
	return out
}

func (r telemetryRequest) deviceMetadata() *envelope.DeviceMetadata {
	if r.Meta == nil {
		return nil
	}
	meta := &envelope.DeviceMetadata{Firmware: r.Meta.Firmware}
	if r.Meta.Battery != nil {
		meta.Battery = *r.Meta.Battery
	}
	return meta
}

// telemetryResponse is the wire shape `{success, eventId, message}`.
type telemetryResponse struct {
	Success bool   `json:"success"`
	EventID string `json:"eventId,omitempty"`
	Message string `json:"message,omitempty"`
}

// RegisterHTTP mounts the Gateway's HTTP ingress on r.
func (s *Service) RegisterHTTP(r gin.IRouter) {
	r.POST("/telemetry", s.handleTelemetry)
}

func (s *Service) handleTelemetry(c *gin.Context) {
	var body telemetryRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, telemetryResponse{Success: false, Message: err.Error()})
		return
	}

	result, err := s.Accept(c.Request.Context(), AcceptRequest{
		DeviceID:     body.DeviceID,
		Timestamp:    body.Timestamp,
		Measurements: body.measurements(),
		Metadata:     body.deviceMetadata(),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, telemetryResponse{Success: false, Message: result.Reason})
		return
	}

	switch result.Status {
	case StatusAccepted:
		c.JSON(http.StatusOK, telemetryResponse{Success: true, EventID: result.EventID})
	case StatusDeviceNotFound:
		c.JSON(http.StatusBadRequest, telemetryResponse{Success: false, Message: result.Reason})
	case StatusValidationError:
		c.JSON(http.StatusBadRequest, telemetryResponse{Success: false, Message: result.Reason})
	default:
		c.JSON(http.StatusInternalServerError, telemetryResponse{Success: false, Message: result.Reason})
	}
}
