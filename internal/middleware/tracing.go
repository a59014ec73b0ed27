package middleware

import (
	"fmt"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/AhmadAlbader/BCards/internal/tracing"
)

// Tracing returns an Echo middleware that starts a server span per request,
// continuing any trace context the caller sent. The span context is stored on
// the request so the upstream client can parent its own span and propagate it.
func Tracing(t *tracing.Tracer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))

			ctx, span := t.Start(ctx, fmt.Sprintf("%s %s", req.Method, req.URL.Path),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", req.Method),
					attribute.String("url.path", req.URL.Path),
					attribute.String("user_agent.original", req.UserAgent()),
					attribute.String("client.address", c.RealIP()),
				),
			)
			defer span.End()

			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if err != nil {
				span.RecordError(err)
				c.Error(err)
			}

			res := c.Response()
			span.SetAttributes(attribute.Int("http.response.status_code", res.Status))
			if id := res.Header().Get(echo.HeaderXRequestID); id != "" {
				span.SetAttributes(attribute.String("request.id", id))
			}
			if res.Status >= 500 {
				span.SetStatus(codes.Error, "server error")
			}

			// The error was already handled above.
			return nil
		}
	}
}
