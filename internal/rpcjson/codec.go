// Package rpcjson registers a grpc wire codec that marshals messages as
// JSON instead of protobuf. pulsegrid's RPC surfaces (Registry, Scorer,
// Gateway ingress) are hand-written Go structs rather than protoc-generated
// types, so they ride on real grpc transport, deadlines, and status codes
// while using "json" as the content-subtype instead of compiled protobuf.
package rpcjson

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Name is the codec name grpc clients/servers must negotiate
// ("application/grpc+json" on the wire).
const Name = "json"

type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpcjson: marshal: %w", err)
	}
	return data, nil
}

func (codec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpcjson: unmarshal: %w", err)
	}
	return nil
}

func (codec) Name() string {
	return Name
}

func init() {
	encoding.RegisterCodec(codec{})
}
