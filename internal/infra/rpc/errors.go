package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("http %d: %s", e.Code, body)
}

// IsNotFound reports whether err is a 404 from the endpoint.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ErrorType labels an error for metrics.
type ErrorType string

const (
	ErrorTypeThrottle ErrorType = "throttle"
	ErrorTypeClient   ErrorType = "client"
	ErrorTypeServer   ErrorType = "server"
	ErrorTypeNetwork  ErrorType = "network"
)

// ClassifyError determines the metrics label for a given error.
func ClassifyError(err error) ErrorType {
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusTooManyRequests || se.Code == http.StatusForbidden:
			return ErrorTypeThrottle
		case se.Code >= 500:
			return ErrorTypeServer
		default:
			return ErrorTypeClient
		}
	}

	var re *RPCError
	if errors.As(err, &re) {
		// -32700: Parse error, -32600: Invalid Request, -32601: Method not found, -32602: Invalid params
		if re.Code <= -32600 && re.Code >= -32700 {
			return ErrorTypeClient
		}
		return ErrorTypeServer
	}

	s := strings.ToLower(err.Error())
	if strings.Contains(s, "rate limit") || strings.Contains(s, "too many requests") ||
		strings.Contains(s, "quota") || strings.Contains(s, "throttl") {
		return ErrorTypeThrottle
	}
	return ErrorTypeNetwork
}
