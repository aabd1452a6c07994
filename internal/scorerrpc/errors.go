package scorerrpc

import "errors"

var errUnimplemented = errors.New("scorerrpc: method not implemented")
