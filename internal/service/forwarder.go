package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/AhmadAlbader/BCards/internal/model"
)

var (
	// ErrInvalidBody is returned when a POST or PUT body is not valid JSON.
	ErrInvalidBody = errors.New("request body is not valid JSON")

	// ErrUnsupportedMethod is returned for methods other than GET, POST, PUT and DELETE.
	ErrUnsupportedMethod = errors.New("unsupported method")
)

const userAgent = "bcards-gateway/1.0"

// Doer performs a single upstream round trip.
type Doer interface {
	Do(ctx context.Context, method, url string, header http.Header, body []byte) (*model.UpstreamResponse, error)
}

// Forwarder issues the upstream call for a ForwardRequest. All methods go
// through Forward so header and body handling live in one place.
type Forwarder struct {
	client   Doer
	resolver *Resolver
	logger   *slog.Logger
}

// NewForwarder creates a Forwarder.
func NewForwarder(c Doer, r *Resolver, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		client:   c,
		resolver: r,
		logger:   logger.With("component", "forwarder"),
	}
}

// Forward resolves the logical path and sends one upstream request.
//
// GET and DELETE carry no body. POST and PUT require a JSON body, which is
// compacted before sending; anything else fails with ErrInvalidBody and no
// upstream call is made. The credential, when present, is sent unchanged as
// the Authorization header.
func (f *Forwarder) Forward(ctx context.Context, fr *model.ForwardRequest) (*model.UpstreamResponse, error) {
	var body []byte
	switch fr.Method {
	case http.MethodGet, http.MethodDelete:
	case http.MethodPost, http.MethodPut:
		b, err := encodeBody(fr.Body)
		if err != nil {
			return nil, err
		}
		body = b
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, fr.Method)
	}

	target := f.resolver.Resolve(fr.LogicalPath)
	header := buildHeader(fr)

	f.logger.Debug("forwarding request",
		"method", fr.Method,
		"path", fr.LogicalPath,
	)

	resp, err := f.client.Do(ctx, fr.Method, target, header, body)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}
	return resp, nil
}

func buildHeader(fr *model.ForwardRequest) http.Header {
	h := make(http.Header)
	contentType := fr.ContentType
	if contentType == "" {
		contentType = model.MediaTypeJSON
	}
	h.Set("Content-Type", contentType)
	if fr.Credential != "" {
		h.Set("Authorization", fr.Credential)
	}
	h.Set("User-Agent", userAgent)
	return h
}

// encodeBody re-serializes a JSON payload in compact form.
func encodeBody(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	if buf.Len() == 0 {
		return nil, ErrInvalidBody
	}
	return buf.Bytes(), nil
}
