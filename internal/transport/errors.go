package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
)

// Class is the coarse category of a failure, used by the session state machine.
type Class string

const (
	ClassConnectivity Class = "connectivity"
	ClassProtocol     Class = "protocol"
	ClassParse        Class = "parse"
	ClassLocalIO      Class = "local_io"
	ClassUnknown      Class = "unknown"
)

// ErrParse marks a response that could not be decoded.
var ErrParse = errors.New("malformed response")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d %s", e.Code, http.StatusText(e.Code))
}

// Timeout reports whether the status means the server or a gateway gave up
// waiting.
func (e *StatusError) Timeout() bool {
	switch e.Code {
	case http.StatusGatewayTimeout, http.StatusRequestTimeout, http.StatusServiceUnavailable:
		return true
	}
	return false
}

// ConnectivityError wraps name resolution, dial and timeout failures.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Classify maps err to a Class. Timeout-like status codes count as
// connectivity failures.
func Classify(err error) Class {
	if err == nil {
		return ""
	}

	var connErr *ConnectivityError
	if errors.As(err, &connErr) {
		return ClassConnectivity
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Timeout() {
			return ClassConnectivity
		}
		return ClassProtocol
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassConnectivity
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassConnectivity
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassConnectivity
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.Is(err, ErrParse) || errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return ClassParse
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return ClassLocalIO
	}

	return ClassUnknown
}
