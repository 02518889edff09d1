package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/khuddam/sitecache/internal/cache"
	"github.com/khuddam/sitecache/internal/logging"
	"github.com/khuddam/sitecache/internal/network"
	"github.com/khuddam/sitecache/internal/server"
	"github.com/khuddam/sitecache/internal/strategy"
	"github.com/khuddam/sitecache/internal/worker"
)

// 响应来源：worker 不接管的请求直接透传到上游。
const sourcePassthrough = "passthrough"

// Handler 把拦截到的请求交给 Scope 当前生效的 worker，并将结果写回客户端。
// worker 未激活或选择不接管时，使用共享 Fetcher 直接透传。
type Handler struct {
	fetcher strategy.Fetcher
	logger  *logrus.Logger
}

// NewHandler constructs a proxy handler with a shared upstream fetcher and logger.
func NewHandler(fetcher strategy.Fetcher, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{fetcher: fetcher, logger: logger}
}

// Handle 构造上游请求 → worker 分发 → 写回响应，任何阶段的结果都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx, route *server.ScopeRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	target, ok := server.TargetURL(c)
	if !ok {
		return h.writeError(c, fiber.StatusNotFound, "scope_unmapped")
	}
	req, err := buildUpstreamRequest(ctx, c, target)
	if err != nil {
		h.logResult(route, target.String(), requestID, "", "", sourcePassthrough, 0, started, err)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request")
	}

	outcome := worker.Outcome{Passthrough: true}
	if controller := route.Controller(); controller != nil {
		outcome = controller.Fetch(ctx, worker.Event{Kind: worker.EventFetch, Request: req})
	}
	if outcome.Err != nil && !errors.Is(outcome.Err, worker.ErrNotActive) {
		h.logger.WithError(outcome.Err).WithFields(logrus.Fields{
			"scope":      route.Config.Name,
			"request_id": requestID,
			"url":        target.String(),
		}).Warn("worker_fetch_failed")
		outcome = worker.Outcome{Passthrough: true}
	}

	if outcome.Passthrough {
		return h.passthrough(ctx, c, route, req, requestID, started)
	}

	class := string(outcome.Plan.Class)
	kind := string(outcome.Plan.Strategy)
	result := outcome.Result
	c.Set("X-Sitecache-Class", class)
	c.Set("X-Sitecache-Source", string(result.Source))
	if result.Absent() {
		h.logResult(route, target.String(), requestID, class, kind, string(result.Source), fiber.StatusGatewayTimeout, started, nil)
		return h.writeError(c, fiber.StatusGatewayTimeout, "offline_unavailable")
	}

	if result.Partition != "" {
		c.Set("X-Sitecache-Partition", result.Partition)
	}
	h.logResult(route, target.String(), requestID, class, kind, string(result.Source), result.Response.Status, started, nil)
	return writeResponse(c, result.Response)
}

func (h *Handler) passthrough(
	ctx context.Context,
	c fiber.Ctx,
	route *server.ScopeRoute,
	req *http.Request,
	requestID string,
	started time.Time,
) error {
	upstream := req.URL.String()
	c.Set("X-Sitecache-Source", sourcePassthrough)
	if h.fetcher == nil {
		h.logResult(route, upstream, requestID, "", "", sourcePassthrough, 0, started, errors.New("fetcher unavailable"))
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	resp, err := h.fetcher.Fetch(ctx, req)
	if err != nil {
		h.logResult(route, upstream, requestID, "", "", sourcePassthrough, 0, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	h.logResult(route, upstream, requestID, "", "", sourcePassthrough, resp.Status, started, nil)
	return writeResponse(c, resp)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.ScopeRoute,
	upstream string,
	requestID string,
	class string,
	kind string,
	source string,
	status int,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(route.Config.Name, route.Config.Domain, class, kind, source)
	fields["action"] = "proxy"
	fields["upstream"] = upstream
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// buildUpstreamRequest 以目标绝对地址重建请求，保留方法、头部与请求体。
func buildUpstreamRequest(ctx context.Context, c fiber.Ctx, target *url.URL) (*http.Request, error) {
	var body io.Reader
	if raw := c.Body(); len(raw) > 0 {
		body = bytes.NewReader(append([]byte(nil), raw...))
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), target.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header = fiberHeadersAsHTTP(c)
	req.Header.Del(fiber.HeaderHost)
	return req, nil
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func writeResponse(c fiber.Ctx, resp *cache.Response) error {
	copyResponseHeaders(c, resp.Header)
	c.Status(resp.Status)
	if c.Method() == http.MethodHead {
		c.Response().Header.SetContentLength(len(resp.Body))
		return nil
	}
	return c.Send(resp.Body)
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if network.IsHopByHopHeader(key) || key == fiber.HeaderContentLength {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Response().Header.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}
