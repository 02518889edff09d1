package routes

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/khuddam/sitecache/internal/metrics"
)

// RegisterMetricsRoute 暴露 /-/metrics，输出 Prometheus 文本格式指标。
func RegisterMetricsRoute(app *fiber.App, m *metrics.Metrics) {
	if app == nil || m == nil {
		return
	}
	handler := promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{})
	app.Get("/-/metrics", adaptor.HTTPHandler(handler))
}
