// Package collab defines the outbound collaborator ports the workflow
// engine calls into: document rendering, object storage, and
// notification delivery. Each call is blocking with a binary outcome;
// retries belong to the caller's orchestration layer, not here.
package collab

import (
	"context"
	"fmt"
)

// Service tags identify which collaborator an ExternalError came from.
const (
	ServiceRenderer    = "document_renderer"
	ServiceObjectStore = "object_store"
	ServiceNotifier    = "notifier"
)

// ExternalError wraps a collaborator failure, tagged by which service
// failed. Inside an atomic transition it aborts the whole operation.
type ExternalError struct {
	Service string
	Err     error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("collab: %s: %v", e.Service, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

// RendererFailed tags err as a document renderer failure.
func RendererFailed(err error) error {
	return &ExternalError{Service: ServiceRenderer, Err: err}
}

// StoreFailed tags err as an object store failure.
func StoreFailed(err error) error {
	return &ExternalError{Service: ServiceObjectStore, Err: err}
}

// NotifierFailed reports a notification the workflow required to
// succeed.
func NotifierFailed(template string) error {
	return &ExternalError{Service: ServiceNotifier, Err: fmt.Errorf("send %s failed", template)}
}

// Renderer produces document bytes for a document type and a data
// snapshot. PDF layout and styling live behind this interface.
type Renderer interface {
	Render(ctx context.Context, docType string, data map[string]any) ([]byte, error)
}

// ObjectStore uploads document bytes and returns a durable URL.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, key string, body []byte) (string, error)
}

// Notifier delivers a templated message to a recipient. It reports
// success or failure and never panics or errors into the core; callers
// decide whether a failed send aborts their transition.
type Notifier interface {
	Send(ctx context.Context, template, recipient string, data map[string]any) bool
}
