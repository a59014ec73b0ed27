// Package model defines the per-request value types that flow through the gateway.
package model

import (
	"net/http"
)

// Media types the gateway sends upstream and returns to callers.
const (
	MediaTypeJSON  = "application/json"
	MediaTypeVCard = "text/vcard"
)

// Format selects how a successful upstream body is translated.
type Format int

const (
	// FormatJSON passes a JSON body through unchanged.
	FormatJSON Format = iota
	// FormatVCard returns the body as a downloadable vCard attachment.
	FormatVCard
)

// ForwardRequest is one inbound call rewritten for the upstream.
// Body is nil for GET and DELETE.
type ForwardRequest struct {
	Method      string
	LogicalPath string
	Credential  string // raw Authorization header value, relayed as-is
	ContentType string
	Body        []byte
}

// UpstreamResponse holds a fully read upstream reply.
type UpstreamResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Success reports whether the upstream answered with a 2xx status.
func (r *UpstreamResponse) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Envelope is what the gateway writes back to the caller.
// An empty Body means the response carries only a status.
type Envelope struct {
	StatusCode  int
	ContentType string
	Body        []byte
	Header      http.Header
}

// ErrorBody is the classified body of a non-2xx upstream reply:
// either a StructuredErrorBody or an UnparseableErrorBody.
type ErrorBody interface {
	isErrorBody()
}

// StructuredErrorBody is a non-empty JSON object sent by the upstream.
type StructuredErrorBody struct {
	Raw []byte
}

// UnparseableErrorBody stands for anything that is not a non-empty JSON object.
type UnparseableErrorBody struct {
	Status int
}

func (StructuredErrorBody) isErrorBody()  {}
func (UnparseableErrorBody) isErrorBody() {}
