package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/AhmadAlbader/BCards/internal/metrics"
	"github.com/AhmadAlbader/BCards/internal/model"
	"github.com/AhmadAlbader/BCards/internal/service"
)

// Caller-facing messages.
const (
	msgMissingParameters = "Missing parameters"
	msgMissingPath       = "Missing path parameter"

	msgCardFault   = "Failed to fetch card data"
	msgVCardFault  = "Failed to fetch vCard"
	msgFetchFault  = "Failed to fetch company data"
	msgChangeFault = "Failed to process request"
)

// endpoint names one gateway route for logs, metrics and fault messages.
type endpoint struct {
	name       string
	faultMsg   string
	missingMsg string
}

var (
	cardEndpoint  = endpoint{name: "card", faultMsg: msgCardFault, missingMsg: msgMissingParameters}
	vcardEndpoint = endpoint{name: "vcard", faultMsg: msgVCardFault, missingMsg: msgMissingParameters}
)

func proxyEndpoint(method string) endpoint {
	ep := endpoint{name: "proxy", faultMsg: msgChangeFault, missingMsg: msgMissingPath}
	if method == http.MethodGet {
		ep.faultMsg = msgFetchFault
	}
	return ep
}

// GatewayHandler serves the card, vCard and generic proxy routes.
type GatewayHandler struct {
	forwarder  *service.Forwarder
	translator *service.Translator
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewGatewayHandler creates a GatewayHandler. The metrics parameter is
// optional; pass nil to skip rejection counting.
func NewGatewayHandler(f *service.Forwarder, t *service.Translator, m *metrics.Metrics, logger *slog.Logger) *GatewayHandler {
	return &GatewayHandler{
		forwarder:  f,
		translator: t,
		metrics:    m,
		logger:     logger.With("component", "gateway_handler"),
	}
}

// Card relays GET /card?company_slug=&employee_slug= to /card/{company}/{employee}.
func (h *GatewayHandler) Card(c echo.Context) error {
	company, employee, ok := slugs(c)
	if !ok {
		return h.reject(c, cardEndpoint)
	}

	fr := &model.ForwardRequest{
		Method:      http.MethodGet,
		LogicalPath: service.CardPath(company, employee),
		ContentType: model.MediaTypeJSON,
	}
	return h.relay(c, cardEndpoint, fr, model.FormatJSON, "")
}

// VCard relays GET /vcard?company_slug=&employee_slug= and returns the card
// as a .vcf download.
func (h *GatewayHandler) VCard(c echo.Context) error {
	company, employee, ok := slugs(c)
	if !ok {
		return h.reject(c, vcardEndpoint)
	}

	fr := &model.ForwardRequest{
		Method:      http.MethodGet,
		LogicalPath: service.VCardPath(company, employee),
		ContentType: model.MediaTypeVCard,
	}
	return h.relay(c, vcardEndpoint, fr, model.FormatVCard, company+"-"+employee+".vcf")
}

// Proxy relays GET|POST|PUT|DELETE /proxy?path=<logical path>. The caller's
// Authorization header is passed through unchanged; POST and PUT bodies must
// be JSON.
func (h *GatewayHandler) Proxy(c echo.Context) error {
	req := c.Request()
	ep := proxyEndpoint(req.Method)

	path := c.QueryParam("path")
	if path == "" {
		return h.reject(c, ep)
	}

	fr := &model.ForwardRequest{
		Method:      req.Method,
		LogicalPath: path,
		Credential:  req.Header.Get(echo.HeaderAuthorization),
		ContentType: model.MediaTypeJSON,
	}

	if req.Method == http.MethodPost || req.Method == http.MethodPut {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return h.fault(c, ep, err)
		}
		fr.Body = body
	}

	return h.relay(c, ep, fr, model.FormatJSON, "")
}

// relay runs forward and translate, turning any failure into a 500 fault.
func (h *GatewayHandler) relay(c echo.Context, ep endpoint, fr *model.ForwardRequest, format model.Format, filename string) error {
	resp, err := h.forwarder.Forward(c.Request().Context(), fr)
	if err != nil {
		return h.fault(c, ep, err)
	}

	env, err := h.translator.Translate(resp, format, filename)
	if err != nil {
		return h.fault(c, ep, err)
	}

	if !resp.Success() {
		h.logger.Debug("upstream error relayed",
			"endpoint", ep.name,
			"method", fr.Method,
			"path", fr.LogicalPath,
			"status", resp.StatusCode,
		)
	}

	return writeEnvelope(c, env)
}

func writeEnvelope(c echo.Context, env *model.Envelope) error {
	for key, vals := range env.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}
	if len(env.Body) == 0 {
		return c.NoContent(env.StatusCode)
	}
	return c.Blob(env.StatusCode, env.ContentType, env.Body)
}

// reject answers a request that is missing a required query parameter.
// Nothing is sent upstream.
func (h *GatewayHandler) reject(c echo.Context, ep endpoint) error {
	h.count(ep, metrics.KindValidation)
	return c.JSON(http.StatusBadRequest, service.ErrorResponse(ep.missingMsg))
}

// fault is the single fallback for anything that went wrong before a
// translated response existed. Details are logged, never returned.
func (h *GatewayHandler) fault(c echo.Context, ep endpoint, err error) error {
	h.logger.Error("gateway fault",
		"endpoint", ep.name,
		"method", c.Request().Method,
		"err", err,
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
	)
	h.count(ep, metrics.KindTransport)
	return c.JSON(http.StatusInternalServerError, service.ErrorResponse(ep.faultMsg))
}

func (h *GatewayHandler) count(ep endpoint, kind string) {
	if h.metrics != nil {
		h.metrics.GatewayRejections.WithLabelValues(ep.name, kind).Inc()
	}
}

func slugs(c echo.Context) (company, employee string, ok bool) {
	company = c.QueryParam("company_slug")
	employee = c.QueryParam("employee_slug")
	return company, employee, company != "" && employee != ""
}
