// Package registryrpc defines the Registry's grpc service contract: request
// and response types, the server interface, and a thin client. Messages are
// plain Go structs carried over grpc using the JSON codec registered by
// internal/rpcjson, since no protoc toolchain is available to generate
// protobuf bindings.
package registryrpc

import (
	"context"

	"github.com/vitalmesh/pulsegrid/internal/envelope"
	"google.golang.org/grpc"
)

// Status values returned alongside every response, independent of the grpc
// status code used on the wire.
const (
	StatusSuccess        = "success"
	StatusNotFound       = "not_found"
	StatusInvalidRequest = "invalid_request"
	StatusInternalError  = "internal_error"
)

// ServiceName is the grpc full service name used for method routing.
const ServiceName = "pulsegrid.registry.Registry"

// Device mirrors the Registry's Device entity.
type Device struct {
	DeviceID  string `json:"device_id"`
	PatientID string `json:"patient_id"`
}

// Patient mirrors the Registry's Patient entity.
type Patient struct {
	PatientID string                 `json:"patient_id"`
	Profile   envelope.PatientProfile `json:"profile"`
}

// GetDeviceRequest looks up a device by id.
type GetDeviceRequest struct {
	DeviceID string `json:"device_id"`
}

// GetDeviceResponse carries the resolved device, if any.
type GetDeviceResponse struct {
	Device *Device `json:"device,omitempty"`
	Status string  `json:"status"`
	Error  string  `json:"error,omitempty"`
}

// GetPatientRequest looks up a patient by id.
type GetPatientRequest struct {
	PatientID string `json:"patient_id"`
}

// GetPatientResponse carries the resolved patient, if any.
type GetPatientResponse struct {
	Patient *Patient `json:"patient,omitempty"`
	Status  string   `json:"status"`
	Error   string   `json:"error,omitempty"`
}

// GetThresholdProfileRequest resolves thresholds for a patient, optionally
// narrowed to a specific device, which enables the device-over-patient
// fallback when an override exists.
type GetThresholdProfileRequest struct {
	PatientID string `json:"patient_id"`
	DeviceID  string `json:"device_id,omitempty"`
}

// GetThresholdProfileResponse carries the resolved profile, if any.
// Profile.Source records whether the device-specific or patient-default profile was used.
type GetThresholdProfileResponse struct {
	Profile *envelope.ThresholdProfile `json:"profile,omitempty"`
	Status  string                     `json:"status"`
	Error   string                     `json:"error,omitempty"`
}

// Server is the Registry's RPC surface.
type Server interface {
	GetDevice(context.Context, *GetDeviceRequest) (*GetDeviceResponse, error)
	GetPatient(context.Context, *GetPatientRequest) (*GetPatientResponse, error)
	GetThresholdProfile(context.Context, *GetThresholdProfileRequest) (*GetThresholdProfileResponse, error)
}

// UnimplementedServer can be embedded to satisfy Server for forward
// compatibility with new methods.
type UnimplementedServer struct{}

func (UnimplementedServer) GetDevice(context.Context, *GetDeviceRequest) (*GetDeviceResponse, error) {
	return nil, errUnimplemented
}

func (UnimplementedServer) GetPatient(context.Context, *GetPatientRequest) (*GetPatientResponse, error) {
	return nil, errUnimplemented
}

func (UnimplementedServer) GetThresholdProfile(context.Context, *GetThresholdProfileRequest) (*GetThresholdProfileResponse, error) {
	return nil, errUnimplemented
}

// RegisterServer registers srv on s under the Registry service descriptor.
func RegisterServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}

func getDeviceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(GetDeviceRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).GetDevice(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/GetDevice"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).GetDevice(ctx, req.(*GetDeviceRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func getPatientHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(GetPatientRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).GetPatient(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/GetPatient"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).GetPatient(ctx, req.(*GetPatientRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func getThresholdProfileHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(GetThresholdProfileRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).GetThresholdProfile(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/GetThresholdProfile"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).GetThresholdProfile(ctx, req.(*GetThresholdProfileRequest))
	}
	return interceptor(ctx, req, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetDevice", Handler: getDeviceHandler},
		{MethodName: "GetPatient", Handler: getPatientHandler},
		{MethodName: "GetThresholdProfile", Handler: getThresholdProfileHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "registry.proto",
}

// Client is the Registry's RPC surface as seen by callers (Gateway,
// Enricher).
type Client interface {
	GetDevice(context.Context, *GetDeviceRequest, ...grpc.CallOption) (*GetDeviceResponse, error)
	GetPatient(context.Context, *GetPatientRequest, ...grpc.CallOption) (*GetPatientResponse, error)
	GetThresholdProfile(context.Context, *GetThresholdProfileRequest, ...grpc.CallOption) (*GetThresholdProfileResponse, error)
}

type client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established grpc connection in the Registry client API.
func NewClient(cc grpc.ClientConnInterface) Client {
	return &client{cc: cc}
}

func (c *client) GetDevice(ctx context.Context, in *GetDeviceRequest, opts ...grpc.CallOption) (*GetDeviceResponse, error) {
	out := new(GetDeviceResponse)
	opts = append(opts, grpc.CallContentSubtype("json"))
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetDevice", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) GetPatient(ctx context.Context, in *GetPatientRequest, opts ...grpc.CallOption) (*GetPatientResponse, error) {
	out := new(GetPatientResponse)
	opts = append(opts, grpc.CallContentSubtype("json"))
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetPatient", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) GetThresholdProfile(ctx context.Context, in *GetThresholdProfileRequest, opts ...grpc.CallOption) (*GetThresholdProfileResponse, error) {
	out := new(GetThresholdProfileResponse)
	opts = append(opts, grpc.CallContentSubtype("json"))
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetThresholdProfile", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
