package telemetry

import (
	"io"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"google.golang.org/protobuf/encoding/protojson"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
)

// Handler wires a Service and TokenRegistry to the HTTP ingest surface:
// POST /v1/{logs|metrics|traces}/{token}.
type Handler struct {
	svc      *Service
	registry *TokenRegistry
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, registry *TokenRegistry) *Handler {
	return &Handler{svc: svc, registry: registry}
}

// Register attaches the telemetry ingest routes to e, grounded on the
// teacher's echo.New()/Group route-registration shape in pkg/api/server.go.
func (h *Handler) Register(e *echo.Echo) {
	e.POST("/v1/logs/:token", h.ingestLogs)
	e.POST("/v1/metrics/:token", h.ingestMetrics)
	e.POST("/v1/traces/:token", h.ingestTraces)
}

// resolveSession maps the URL token to a session id, writing 404 if
// unknown. It reports ok=false once the response has already been written.
func (h *Handler) resolveSession(c *echo.Context) (sessionID string, ok bool) {
	token := c.Param("token")
	sessionID, found := h.registry.Resolve(token)
	if !found || !h.svc.runtime.HasSession(sessionID) {
		_ = c.JSON(http.StatusNotFound, map[string]string{"error": "unknown token"})
		return "", false
	}
	return sessionID, true
}

func readBody(c *echo.Context) ([]byte, bool) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		_ = c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return nil, false
	}
	return body, true
}

func partialSuccess(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"partialSuccess": map[string]any{}})
}

func (h *Handler) ingestLogs(c *echo.Context) error {
	sessionID, ok := h.resolveSession(c)
	if !ok {
		return nil
	}
	body, ok := readBody(c)
	if !ok {
		return nil
	}

	var req collogspb.ExportLogsServiceRequest
	if err := protojson.Unmarshal(body, &req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid json"})
	}

	events := ParseLogsRequest(req.ResourceLogs)
	h.svc.Ingest(c.Request().Context(), sessionID, events, true)
	return partialSuccess(c)
}

func (h *Handler) ingestMetrics(c *echo.Context) error {
	sessionID, ok := h.resolveSession(c)
	if !ok {
		return nil
	}
	body, ok := readBody(c)
	if !ok {
		return nil
	}

	var req colmetricspb.ExportMetricsServiceRequest
	if err := protojson.Unmarshal(body, &req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid json"})
	}

	events := ParseMetricsRequest(req.ResourceMetrics)
	h.svc.Ingest(c.Request().Context(), sessionID, events, true)
	return partialSuccess(c)
}

func (h *Handler) ingestTraces(c *echo.Context) error {
	sessionID, ok := h.resolveSession(c)
	if !ok {
		return nil
	}
	body, ok := readBody(c)
	if !ok {
		return nil
	}

	var req coltracepb.ExportTraceServiceRequest
	if err := protojson.Unmarshal(body, &req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid json"})
	}

	events := ParseTracesRequest(req.ResourceSpans)
	h.svc.Ingest(c.Request().Context(), sessionID, events, true)
	return partialSuccess(c)
}
