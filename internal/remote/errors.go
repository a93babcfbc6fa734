package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrNetworkUnavailable means the request never produced an HTTP response.
	ErrNetworkUnavailable = errors.New("network unavailable")
	// ErrRejected matches every RejectedError.
	ErrRejected = errors.New("rejected by server")
	// ErrNotFound matches a RejectedError with status 404.
	ErrNotFound = errors.New("not found on server")
)

// Problem is the RFC 7807 body returned by the server on failure.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// RejectedError is returned when the server answers with a non-success status.
type RejectedError struct {
	Method     string
	Path       string
	StatusCode int
	Problem    Problem
}

func (e *RejectedError) Error() string {
	detail := e.Problem.Detail
	if detail == "" {
		detail = e.Problem.Title
	}
	if detail == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, detail)
}

// Is lets errors.Is match ErrRejected, and ErrNotFound for 404 responses.
func (e *RejectedError) Is(target error) bool {
	switch target {
	case ErrRejected:
		return true
	case ErrNotFound:
		return e.StatusCode == 404
	}
	return false
}
