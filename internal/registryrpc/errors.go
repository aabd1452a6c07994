package registryrpc

import "errors"

var errUnimplemented = errors.New("registryrpc: method not implemented")
