package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/AhmadAlbader/BCards/internal/model"
)

// ErrMalformedBody is returned when a successful upstream reply that should
// be JSON does not parse.
var ErrMalformedBody = errors.New("upstream returned malformed JSON")

// Translator maps upstream replies onto the gateway's outbound contract.
type Translator struct{}

// NewTranslator creates a Translator.
func NewTranslator() *Translator {
	return &Translator{}
}

// Translate converts resp into an Envelope.
//
// A 2xx JSON reply is passed through byte for byte; a 2xx vCard reply is
// returned as a text/vcard attachment named by filename. Any other status
// keeps its code and carries the upstream's own JSON object when it sent a
// non-empty one, or {"error":"Backend returned <status>"} otherwise. Error
// replies are JSON for every format, vCard included.
func (t *Translator) Translate(resp *model.UpstreamResponse, format model.Format, filename string) (*model.Envelope, error) {
	if !resp.Success() {
		return errorEnvelope(resp.StatusCode, ClassifyErrorBody(resp.StatusCode, resp.Body))
	}

	if format == model.FormatVCard {
		header := make(http.Header)
		header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		return &model.Envelope{
			StatusCode:  resp.StatusCode,
			ContentType: model.MediaTypeVCard,
			Body:        resp.Body,
			Header:      header,
		}, nil
	}

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusResetContent {
		return &model.Envelope{StatusCode: resp.StatusCode}, nil
	}
	if !gjson.ValidBytes(resp.Body) {
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, ErrMalformedBody)
	}
	return &model.Envelope{
		StatusCode:  resp.StatusCode,
		ContentType: model.MediaTypeJSON,
		Body:        resp.Body,
	}, nil
}

// ClassifyErrorBody decides whether a non-2xx body is a usable JSON error
// object. Arrays, scalars, empty objects and invalid JSON are all unparseable.
func ClassifyErrorBody(status int, body []byte) model.ErrorBody {
	if !gjson.ValidBytes(body) {
		return model.UnparseableErrorBody{Status: status}
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() || len(parsed.Map()) == 0 {
		return model.UnparseableErrorBody{Status: status}
	}
	return model.StructuredErrorBody{Raw: body}
}

func errorEnvelope(status int, eb model.ErrorBody) (*model.Envelope, error) {
	switch b := eb.(type) {
	case model.StructuredErrorBody:
		return &model.Envelope{
			StatusCode:  status,
			ContentType: model.MediaTypeJSON,
			Body:        b.Raw,
		}, nil
	case model.UnparseableErrorBody:
		body, err := json.Marshal(ErrorResponse(fmt.Sprintf("Backend returned %d", b.Status)))
		if err != nil {
			return nil, fmt.Errorf("encode error envelope: %w", err)
		}
		return &model.Envelope{
			StatusCode:  status,
			ContentType: model.MediaTypeJSON,
			Body:        body,
		}, nil
	default:
		return nil, fmt.Errorf("unknown error body %T", eb)
	}
}

// ErrorResponse builds the canonical {"error": msg} failure body.
func ErrorResponse(msg string) map[string]string {
	return map[string]string{"error": msg}
}
