package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AhmadAlbader/BCards/internal/client"
	"github.com/AhmadAlbader/BCards/internal/config"
	"github.com/AhmadAlbader/BCards/internal/metrics"
	"github.com/AhmadAlbader/BCards/internal/service"
)

// upstreamCall is one request as seen by the mock backend.
type upstreamCall struct {
	method string
	uri    string
	header http.Header
	body   string
}

type gatewayFixture struct {
	e       *echo.Echo
	metrics *metrics.Metrics
	calls   atomic.Int64
	seen    chan upstreamCall
}

// newGatewayFixture starts a mock backend served by h and an Echo instance
// with all gateway routes pointing at it under /api.
func newGatewayFixture(t *testing.T, h http.HandlerFunc) *gatewayFixture {
	t.Helper()

	f := &gatewayFixture{seen: make(chan upstreamCall, 16)}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		b, _ := io.ReadAll(r.Body)
		f.seen <- upstreamCall{method: r.Method, uri: r.URL.RequestURI(), header: r.Header.Clone(), body: string(b)}
		h(w, r)
	}))
	t.Cleanup(upstream.Close)

	f.e, f.metrics = newGatewayEcho(upstream.URL+"/api", 10)
	return f
}

func newGatewayEcho(baseURL string, timeoutSeconds int) (*echo.Echo, *metrics.Metrics) {
	cfg := &config.Config{Upstream: config.UpstreamConfig{
		BaseURL:          baseURL,
		TimeoutSeconds:   timeoutSeconds,
		IdleConnections:  10,
		MaxResponseBytes: 1 << 20,
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	resolver := service.NewResolver(cfg)
	fwd := service.NewForwarder(client.NewUpstreamClient(cfg, logger, m), resolver, logger)
	gw := NewGatewayHandler(fwd, service.NewTranslator(), m, logger)

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(logger)
	RegisterRoutes(e, gw, NewHealthHandler(resolver, "test"))
	return e, m
}

func (f *gatewayFixture) do(method, target, body string, header http.Header) *httptest.ResponseRecorder {
	var r io.Reader = http.NoBody
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func writeJSON(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestGateway_MissingParametersNeverReachUpstream(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		want   string
	}{
		{"proxy GET", http.MethodGet, "/proxy", `{"error":"Missing path parameter"}`},
		{"proxy GET empty path", http.MethodGet, "/proxy?path=", `{"error":"Missing path parameter"}`},
		{"proxy POST", http.MethodPost, "/proxy", `{"error":"Missing path parameter"}`},
		{"proxy PUT", http.MethodPut, "/proxy", `{"error":"Missing path parameter"}`},
		{"proxy DELETE", http.MethodDelete, "/proxy", `{"error":"Missing path parameter"}`},
		{"card no params", http.MethodGet, "/card", `{"error":"Missing parameters"}`},
		{"card missing employee", http.MethodGet, "/card?company_slug=acme", `{"error":"Missing parameters"}`},
		{"card missing company", http.MethodGet, "/card?employee_slug=jane", `{"error":"Missing parameters"}`},
		{"vcard missing employee", http.MethodGet, "/vcard?company_slug=acme", `{"error":"Missing parameters"}`},
		{"vcard empty company", http.MethodGet, "/vcard?company_slug=&employee_slug=jane", `{"error":"Missing parameters"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGatewayFixture(t, writeJSON(http.StatusOK, `{}`))

			rec := f.do(tt.method, tt.target, `{"a":1}`, nil)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.JSONEq(t, tt.want, rec.Body.String())
			assert.Equal(t, int64(0), f.calls.Load(), "upstream must not be called")
		})
	}
}

func TestGateway_SuccessPassesThrough(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		target   string
		body     string
		status   int
		upstream string
		wantURI  string
	}{
		{"proxy GET", http.MethodGet, "/proxy?path=/company/42/employees", "", http.StatusOK, `[{"id":1,"name":"Jane"}]`, "/api/company/42/employees"},
		{"proxy POST", http.MethodPost, "/proxy?path=/company/42/employees", `{"name":"Jane"}`, http.StatusCreated, `{"id":9,"name":"Jane"}`, "/api/company/42/employees"},
		{"proxy PUT", http.MethodPut, "/proxy?path=/company/42", `{"name":"Acme"}`, http.StatusOK, `{"id":42,"name":"Acme"}`, "/api/company/42"},
		{"proxy DELETE", http.MethodDelete, "/proxy?path=/company/42/employees/9", "", http.StatusOK, `{"message":"deleted"}`, "/api/company/42/employees/9"},
		{"card", http.MethodGet, "/card?company_slug=acme&employee_slug=jane", "", http.StatusOK, `{"full_name":"Jane Doe","company":{"name":"Acme"}}`, "/api/card/acme/jane"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGatewayFixture(t, writeJSON(tt.status, tt.upstream))

			rec := f.do(tt.method, tt.target, tt.body, nil)

			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, tt.upstream, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			got := <-f.seen
			assert.Equal(t, tt.method, got.method)
			assert.Equal(t, tt.wantURI, got.uri)
			assert.Equal(t, "application/json", got.header.Get("Content-Type"))
			if tt.body != "" {
				assert.JSONEq(t, tt.body, got.body)
			} else {
				assert.Empty(t, got.body)
			}
			assert.Equal(t, int64(1), f.calls.Load())
		})
	}
}

func TestGateway_VCardSuccess(t *testing.T) {
	card := "BEGIN:VCARD\r\nVERSION:3.0\r\nFN:Jane Doe\r\nORG:Acme\r\nEND:VCARD\r\n"
	f := newGatewayFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/vcard; charset=utf-8")
		_, _ = w.Write([]byte(card))
	})

	rec := f.do(http.MethodGet, "/vcard?company_slug=acme&employee_slug=jane-doe", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, card, rec.Body.String())
	assert.Equal(t, "text/vcard", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="acme-jane-doe.vcf"`, rec.Header().Get("Content-Disposition"))

	got := <-f.seen
	assert.Equal(t, "/api/card/acme/jane-doe/vcard", got.uri)
	assert.Equal(t, "text/vcard", got.header.Get("Content-Type"))
}

func TestGateway_UpstreamErrorObjectForwarded(t *testing.T) {
	errBody := `{"detail":"Not authorized to access this company"}`

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			f := newGatewayFixture(t, writeJSON(http.StatusForbidden, errBody))

			rec := f.do(method, "/proxy?path=/company/1", `{"x":1}`, nil)

			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.JSONEq(t, errBody, rec.Body.String())
		})
	}
}

func TestGateway_UpstreamErrorSynthesized(t *testing.T) {
	tests := []struct {
		name   string
		target string
		status int
		body   string
	}{
		{"proxy empty body", "/proxy?path=/x", http.StatusBadGateway, ""},
		{"proxy html", "/proxy?path=/x", http.StatusInternalServerError, "<h1>boom</h1>"},
		{"proxy empty object", "/proxy?path=/x", http.StatusUnauthorized, "{}"},
		{"card not found text", "/card?company_slug=a&employee_slug=b", http.StatusNotFound, "Not Found"},
		{"vcard not found text", "/vcard?company_slug=a&employee_slug=b", http.StatusNotFound, "Not Found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGatewayFixture(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			rec := f.do(http.MethodGet, tt.target, "", nil)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.JSONEq(t, `{"error":"Backend returned `+strconv.Itoa(tt.status)+`"}`, rec.Body.String())
		})
	}
}

func TestGateway_VCardErrorIsJSON(t *testing.T) {
	f := newGatewayFixture(t, writeJSON(http.StatusNotFound, `{"detail":"Employee not found"}`))

	rec := f.do(http.MethodGet, "/vcard?company_slug=acme&employee_slug=ghost", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("Content-Disposition"))
	assert.JSONEq(t, `{"detail":"Employee not found"}`, rec.Body.String())
}

func TestGateway_ConnectionRefusedIsFault(t *testing.T) {
	e, m := newGatewayEcho("http://127.0.0.1:1/api", 2)

	tests := []struct {
		method string
		target string
		body   string
		want   string
	}{
		{http.MethodGet, "/proxy?path=/x", "", "Failed to fetch company data"},
		{http.MethodPost, "/proxy?path=/x", `{"a":1}`, "Failed to process request"},
		{http.MethodPut, "/proxy?path=/x", `{"a":1}`, "Failed to process request"},
		{http.MethodDelete, "/proxy?path=/x", "", "Failed to process request"},
		{http.MethodGet, "/card?company_slug=a&employee_slug=b", "", "Failed to fetch card data"},
		{http.MethodGet, "/vcard?company_slug=a&employee_slug=b", "", "Failed to fetch vCard"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			f := &gatewayFixture{e: e}
			rec := f.do(tt.method, tt.target, tt.body, nil)

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.JSONEq(t, `{"error":"`+tt.want+`"}`, rec.Body.String())
		})
	}

	assert.Equal(t, float64(4), testutil.ToFloat64(m.GatewayRejections.WithLabelValues("proxy", metrics.KindTransport)))
}

func TestGateway_UpstreamTimeoutIsFault(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	e, _ := newGatewayEcho(upstream.URL, 1)
	f := &gatewayFixture{e: e}

	start := time.Now()
	rec := f.do(http.MethodGet, "/proxy?path=/slow", "", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to fetch company data"}`, rec.Body.String())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestGateway_MalformedSuccessBodyIsFault(t *testing.T) {
	f := newGatewayFixture(t, writeJSON(http.StatusOK, `{"truncated":`))

	rec := f.do(http.MethodGet, "/card?company_slug=a&employee_slug=b", "", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to fetch card data"}`, rec.Body.String())
}

func TestGateway_InvalidRequestBodyIsFault(t *testing.T) {
	for _, method := range []string{http.MethodPost, http.MethodPut} {
		t.Run(method, func(t *testing.T) {
			f := newGatewayFixture(t, writeJSON(http.StatusOK, `{}`))

			rec := f.do(method, "/proxy?path=/company/1", "name=Acme", nil)

			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.JSONEq(t, `{"error":"Failed to process request"}`, rec.Body.String())
			assert.Equal(t, int64(0), f.calls.Load())
		})
	}
}

func TestGateway_DeleteNoContent(t *testing.T) {
	f := newGatewayFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rec := f.do(http.MethodDelete, "/proxy?path=/company/1/employees/2", "", nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestGateway_EmptySuccessBodyIsFault(t *testing.T) {
	f := newGatewayFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})

	rec := f.do(http.MethodGet, "/proxy?path=/company/3", "", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to fetch company data"}`, rec.Body.String())
	assert.Equal(t, int64(1), f.calls.Load())
}

func TestGateway_GetIsIdempotent(t *testing.T) {
	f := newGatewayFixture(t, writeJSON(http.StatusOK, `{"employees":[{"id":1},{"id":2}],"total":2}`))

	first := f.do(http.MethodGet, "/proxy?path=/company/3/employees", "", nil)
	second := f.do(http.MethodGet, "/proxy?path=/company/3/employees", "", nil)

	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.Header(), second.Header())
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
	assert.Equal(t, int64(2), f.calls.Load())
}

func TestGateway_AuthorizationRelay(t *testing.T) {
	t.Run("present", func(t *testing.T) {
		f := newGatewayFixture(t, writeJSON(http.StatusOK, `{}`))

		f.do(http.MethodGet, "/proxy?path=/me", "", http.Header{"Authorization": {"Bearer abc"}})

		got := <-f.seen
		assert.Equal(t, []string{"Bearer abc"}, got.header.Values("Authorization"))
	})

	t.Run("absent", func(t *testing.T) {
		f := newGatewayFixture(t, writeJSON(http.StatusOK, `{}`))

		f.do(http.MethodGet, "/proxy?path=/me", "", nil)

		got := <-f.seen
		_, present := got.header["Authorization"]
		assert.False(t, present)
	})

	t.Run("card endpoints do not relay", func(t *testing.T) {
		f := newGatewayFixture(t, writeJSON(http.StatusOK, `{}`))

		f.do(http.MethodGet, "/card?company_slug=a&employee_slug=b", "", http.Header{"Authorization": {"Bearer abc"}})

		got := <-f.seen
		assert.Empty(t, got.header.Get("Authorization"))
	})
}

func TestGateway_BrandingUpdateScenario(t *testing.T) {
	respBody := `{"brand_color":"#112233","logo_url":"","company_name":"Acme"}`
	f := newGatewayFixture(t, writeJSON(http.StatusOK, respBody))

	rec := f.do(http.MethodPut, "/proxy?path=/company/7/branding", `{"brand_color":"#112233"}`,
		http.Header{"Authorization": {"Bearer tok1"}, "Content-Type": {"application/json"}})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, respBody, rec.Body.String())

	got := <-f.seen
	assert.Equal(t, http.MethodPut, got.method)
	assert.Equal(t, "/api/company/7/branding", got.uri)
	assert.Equal(t, "Bearer tok1", got.header.Get("Authorization"))
	assert.JSONEq(t, `{"brand_color":"#112233"}`, got.body)
}

func TestGateway_ValidationCounted(t *testing.T) {
	f := newGatewayFixture(t, writeJSON(http.StatusOK, `{}`))

	f.do(http.MethodGet, "/card", "", nil)
	f.do(http.MethodGet, "/proxy", "", nil)
	f.do(http.MethodPost, "/proxy", "", nil)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.GatewayRejections.WithLabelValues("card", metrics.KindValidation)))
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.GatewayRejections.WithLabelValues("proxy", metrics.KindValidation)))
}
