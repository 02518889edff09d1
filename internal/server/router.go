package server

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProxyHandler describes the component responsible for answering an
// intercepted request on behalf of a scope. It allows injecting fake handlers
// during tests.
type ProxyHandler interface {
	Handle(fiber.Ctx, *ScopeRoute) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx, *ScopeRoute) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx, route *ScopeRoute) error {
	return f(c, route)
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *ScopeRegistry
	Proxy      ProxyHandler
	ListenPort int
}

const (
	contextKeyRoute     = "_sitecache_route"
	contextKeyRequestID = "_sitecache_request_id"
	contextKeyTarget    = "_sitecache_target"
)

// NewApp builds a Fiber application with scope routing middleware and
// structured error handling.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("scope registry is required")
	}
	if opts.Proxy == nil {
		return nil, errors.New("proxy handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts))

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		route, _ := getRouteFromContext(c)
		if route == nil {
			return renderScopeUnmapped(c, opts.Logger, "", opts.ListenPort)
		}
		return opts.Proxy.Handle(c, route)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并解析请求所属的 Scope 与上游目标地址。
// 同源请求按 Host 匹配 Scope，目标指向 Scope 的源站；跨域请求（CDN 字体、脚本等）
// 按 Origin/Referer 匹配发起页面所属的 Scope，目标保持请求自身的 Host。
func requestContextMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}

		rawHost := strings.TrimSpace(getHostHeader(c))
		if route, ok := opts.Registry.Lookup(rawHost); ok {
			c.Locals(contextKeyRoute, route)
			c.Locals(contextKeyTarget, sameOriginTarget(c, route))
			return c.Next()
		}

		for _, header := range []string{fiber.HeaderOrigin, fiber.HeaderReferer} {
			route, ok := opts.Registry.LookupReferrer(c.Get(header))
			if !ok {
				continue
			}
			target, err := crossOriginTarget(c, rawHost)
			if err != nil {
				break
			}
			c.Locals(contextKeyRoute, route)
			c.Locals(contextKeyTarget, target)
			return c.Next()
		}

		return renderScopeUnmapped(c, opts.Logger, rawHost, opts.ListenPort)
	}
}

func sameOriginTarget(c fiber.Ctx, route *ScopeRoute) *url.URL {
	target := *route.OriginURL
	target.Path = string(c.Request().URI().Path())
	target.RawPath = ""
	target.RawQuery = string(c.Request().URI().QueryString())
	return &target
}

func crossOriginTarget(c fiber.Ctx, host string) (*url.URL, error) {
	if host == "" {
		return nil, errors.New("host header missing")
	}
	scheme := strings.ToLower(strings.TrimSpace(c.Get("X-Forwarded-Proto")))
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	return &url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     string(c.Request().URI().Path()),
		RawQuery: string(c.Request().URI().QueryString()),
	}, nil
}

func renderScopeUnmapped(c fiber.Ctx, logger *logrus.Logger, host string, port int) error {
	fields := logrus.Fields{
		"action": "scope_lookup",
		"host":   host,
		"port":   port,
	}
	logger.WithFields(fields).Warn("scope unmapped")

	if host != "" {
		c.Set("X-Sitecache-Host", host)
	}

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "scope_unmapped",
	})
}

func getHostHeader(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return string(raw)
	}
	return c.Hostname()
}

func getRouteFromContext(c fiber.Ctx) (*ScopeRoute, bool) {
	if value := c.Locals(contextKeyRoute); value != nil {
		if route, ok := value.(*ScopeRoute); ok {
			return route, true
		}
	}
	return nil, false
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// TargetURL returns the absolute upstream URL resolved for the current request.
func TargetURL(c fiber.Ctx) (*url.URL, bool) {
	if value := c.Locals(contextKeyTarget); value != nil {
		if target, ok := value.(*url.URL); ok {
			return target, true
		}
	}
	return nil, false
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
