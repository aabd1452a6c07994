// Package scorerrpc defines the Anomaly Scorer's grpc service contract.
package scorerrpc

import (
	"context"

	"google.golang.org/grpc"
)

// Status values returned alongside every response.
const (
	StatusSuccess       = "success"
	StatusInvalidRequest = "invalid_request"
	StatusInternalError = "internal_error"
)

// ServiceName is the grpc full service name used for method routing.
const ServiceName = "pulsegrid.scorer.AnomalyDetection"

// MetricReading is one vital value submitted for scoring.
type MetricReading struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
}

// ScoreVitalsRequest asks the scorer to evaluate a patient's latest vitals
// against their rolling baseline (spec §4.5).
type ScoreVitalsRequest struct {
	PatientID string          `json:"patient_id"`
	EventID   string          `json:"event_id,omitempty"`
	Readings  []MetricReading `json:"readings"`
}

// MetricScore is the per-metric anomaly result.
type MetricScore struct {
	Metric    string  `json:"metric"`
	Score     float64 `json:"score"`
	Severity  string  `json:"severity"`
	Bootstrap bool    `json:"bootstrap"`
}

// ScoreVitalsResponse carries one score per submitted metric plus the
// weighted overall risk score (spec §6: "{status, patient_id,
// anomaly_scores, overall_risk_score, metadata}").
type ScoreVitalsResponse struct {
	PatientID        string            `json:"patient_id,omitempty"`
	Scores           []MetricScore     `json:"anomaly_scores"`
	OverallRiskScore float64           `json:"overall_risk_score"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Status           string            `json:"status"`
	Error            string            `json:"error,omitempty"`
}

// Server is the Anomaly Scorer's RPC surface.
type Server interface {
	ScoreVitals(context.Context, *ScoreVitalsRequest) (*ScoreVitalsResponse, error)
}

// UnimplementedServer can be embedded to satisfy Server for forward
// compatibility with new methods.
type UnimplementedServer struct{}

func (UnimplementedServer) ScoreVitals(context.Context, *ScoreVitalsRequest) (*ScoreVitalsResponse, error) {
	return nil, errUnimplemented
}

// RegisterServer registers srv on s under the AnomalyDetection service descriptor.
func RegisterServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}

func scoreVitalsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(ScoreVitalsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).ScoreVitals(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/ScoreVitals"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).ScoreVitals(ctx, req.(*ScoreVitalsRequest))
	}
	return interceptor(ctx, req, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ScoreVitals", Handler: scoreVitalsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "scorer.proto",
}

// Client is the Anomaly Scorer's RPC surface as seen by callers (Rules Engine).
type Client interface {
	ScoreVitals(context.Context, *ScoreVitalsRequest, ...grpc.CallOption) (*ScoreVitalsResponse, error)
}

type client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established grpc connection in the Scorer client API.
func NewClient(cc grpc.ClientConnInterface) Client {
	return &client{cc: cc}
}

func (c *client) ScoreVitals(ctx context.Context, in *ScoreVitalsRequest, opts ...grpc.CallOption) (*ScoreVitalsResponse, error) {
	out := new(ScoreVitalsResponse)
	opts = append(opts, grpc.CallContentSubtype("json"))
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/ScoreVitals", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
