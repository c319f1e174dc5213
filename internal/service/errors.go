package service

import (
	"fmt"
	"strings"
	"time"
)

// AuthError means the client-credentials exchange with the token endpoint
// returned a non-success status. It carries the upstream status and body.
type AuthError struct {
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("token endpoint returned %d: %s", e.Status, e.Body)
}

// RemoteAPIError means a list-management API call returned a non-success
// status. Step identifies the pipeline stage that made the call.
type RemoteAPIError struct {
	Step   string
	Status int
	Body   string
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("list API %s call returned %d: %s", e.Step, e.Status, e.Body)
}

// ValidationError means the upload call succeeded at the HTTP level but the
// server rejected the file content. Carried in a success-status body.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("upload failed validation (%d issue(s)):", len(e.Messages)))
	for i, msg := range e.Messages {
		b.WriteString(fmt.Sprintf(" %d. %s", i+1, msg))
	}
	return b.String()
}

// UnknownListError means the list name has no entry in the active DrMap
// partition. Available names are included for operator diagnosis.
type UnknownListError struct {
	ListName  string
	Available []string
}

func (e *UnknownListError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("unknown list %q (no lists configured in this environment)", e.ListName)
	}
	return fmt.Sprintf("unknown list %q, known lists: %s", e.ListName, strings.Join(e.Available, ", "))
}

// TimeoutError means polling exhausted its attempt budget without the remote
// ingest reporting completion.
type TimeoutError struct {
	Attempts int
	Ceiling  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("ingest did not complete after %d poll attempts (%s ceiling)", e.Attempts, e.Ceiling)
}

// ConfigLoadError means drs.json was missing or malformed. The previous
// mapping stays active when this happens during a runtime reload.
type ConfigLoadError struct {
	Path string
	Err  error
}

func (e *ConfigLoadError) Error() string {
	return fmt.Sprintf("failed to load configuration mapping %s: %v", e.Path, e.Err)
}

func (e *ConfigLoadError) Unwrap() error {
	return e.Err
}
