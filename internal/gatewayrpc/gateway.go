// Package gatewayrpc defines the Gateway's grpc ingress contract, the
// programmatic sibling of its HTTP POST /telemetry surface.
package gatewayrpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/vitalmesh/pulsegrid/internal/envelope"
)

// Status codes, numeric on the wire: success=1, validation_error=2,
// device_not_found=3, internal_error=4.
const (
	StatusSuccess        = 1
	StatusValidationError = 2
	StatusDeviceNotFound  = 3
	StatusInternalError   = 4
)

// ServiceName is the grpc full service name used for method routing.
const ServiceName = "pulsegrid.gateway.TelemetryGateway"

// Measurement is one raw device reading submitted over grpc; it is the
// grpc counterpart of one entry of the HTTP JSON body's metrics map, with
// an explicit unit.
type Measurement struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	Unit   string  `json:"unit"`
}

// SendMeasurementsRequest mirrors the wire shape
// `{version, device_id, device_type?, timestamp, measurements[], device_metadata?}`.
type SendMeasurementsRequest struct {
	Version        string                   `json:"version"`
	DeviceID       string                   `json:"device_id"`
	DeviceType     string                   `json:"device_type,omitempty"`
	Timestamp      string                   `json:"timestamp,omitempty"`
	Measurements   []Measurement            `json:"measurements"`
	DeviceMetadata *envelope.DeviceMetadata `json:"device_metadata,omitempty"`
}

// SendMeasurementsResponse mirrors the wire shape
// `{version, status, message?, event_id?, timestamp}`.
type SendMeasurementsResponse struct {
	Version   string `json:"version"`
	Status    int    `json:"status"`
	Message   string `json:"message,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Server is the Gateway's grpc ingress surface.
type Server interface {
	SendMeasurements(context.Context, *SendMeasurementsRequest) (*SendMeasurementsResponse, error)
}

// UnimplementedServer can be embedded to satisfy Server for forward
// compatibility with new methods.
type UnimplementedServer struct{}

func (UnimplementedServer) SendMeasurements(context.Context, *SendMeasurementsRequest) (*SendMeasurementsResponse, error) {
	return nil, errUnimplemented
}

// RegisterServer registers srv on s under the Gateway service descriptor.
func RegisterServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}

func sendMeasurementsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(SendMeasurementsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).SendMeasurements(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/SendMeasurements"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).SendMeasurements(ctx, req.(*SendMeasurementsRequest))
	}
	return interceptor(ctx, req, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SendMeasurements", Handler: sendMeasurementsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gateway.proto",
}

// Client is the Gateway's grpc ingress surface as seen by callers.
type Client interface {
	SendMeasurements(context.Context, *SendMeasurementsRequest, ...grpc.CallOption) (*SendMeasurementsResponse, error)
}

type client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established grpc connection in the Gateway client API.
func NewClient(cc grpc.ClientConnInterface) Client {
	return &client{cc: cc}
}

func (c *client) SendMeasurements(ctx context.Context, in *SendMeasurementsRequest, opts ...grpc.CallOption) (*SendMeasurementsResponse, error) {
	out := new(SendMeasurementsResponse)
	opts = append(opts, grpc.CallContentSubtype("json"))
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/SendMeasurements", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
