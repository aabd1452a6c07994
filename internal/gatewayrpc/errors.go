package gatewayrpc

import "errors"

var errUnimplemented = errors.New("gatewayrpc: method not implemented")
