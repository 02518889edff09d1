package routes

import (
	"errors"
	"sort"

	"github.com/gofiber/fiber/v3"

	"github.com/khuddam/sitecache/internal/cache"
	"github.com/khuddam/sitecache/internal/server"
	"github.com/khuddam/sitecache/internal/worker"
)

// RegisterScopeRoutes 暴露 /-/scopes 诊断接口，列出 Scope 当前生效的 worker 版本
// 以及其拥有的分区占用情况。
func RegisterScopeRoutes(app *fiber.App, registry *server.ScopeRegistry, governor *cache.Governor) {
	if app == nil || registry == nil {
		return
	}
	app.Get("/-/scopes", func(c fiber.Ctx) error {
		routes := registry.List()
		payload := make([]scopeSummary, 0, len(routes))
		for _, route := range routes {
			payload = append(payload, encodeScope(route))
		}
		sort.Slice(payload, func(i, j int) bool {
			return payload[i].Name < payload[j].Name
		})
		return c.JSON(fiber.Map{"scopes": payload})
	})

	app.Get("/-/scopes/:name/partitions", func(c fiber.Ctx) error {
		route, ok := registry.Get(c.Params("name"))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "scope_not_found"})
		}
		active, err := activeWorker(route)
		if err != nil {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "scope_inactive"})
		}
		owned, err := active.Registry().Owned(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}

		names := active.Registry().Names()
		partitions := make([]partitionSummary, 0, len(owned))
		for _, name := range owned {
			summary := partitionSummary{Name: name, Current: names.Recognized(name)}
			if governor != nil {
				usage, _, err := governor.Measure(c.Context(), name)
				if err != nil {
					summary.Error = err.Error()
				}
				summary.Keys = usage.Keys
				summary.TotalBytes = usage.TotalBytes
				summary.Budget = usage.Budget
			}
			partitions = append(partitions, summary)
		}
		return c.JSON(fiber.Map{
			"scope":      route.Config.Name,
			"version":    active.Version(),
			"partitions": partitions,
		})
	})
}

type scopeSummary struct {
	Name       string   `json:"name"`
	Domain     string   `json:"domain"`
	Origin     string   `json:"origin"`
	State      string   `json:"state"`
	Version    string   `json:"version,omitempty"`
	Partitions []string `json:"partitions,omitempty"`
}

type partitionSummary struct {
	Name       string `json:"name"`
	Current    bool   `json:"current"`
	Keys       int    `json:"keys"`
	TotalBytes int64  `json:"total_bytes"`
	Budget     int64  `json:"budget,omitempty"`
	Error      string `json:"error,omitempty"`
}

func encodeScope(route *server.ScopeRoute) scopeSummary {
	summary := scopeSummary{
		Name:   route.Config.Name,
		Domain: route.Config.Domain,
		Origin: route.OriginURL.String(),
		State:  "inactive",
	}
	active, err := activeWorker(route)
	if err != nil {
		return summary
	}
	summary.State = string(active.State())
	summary.Version = active.Version()
	summary.Partitions = active.Registry().Names().All()
	return summary
}

func activeWorker(route *server.ScopeRoute) (*worker.Worker, error) {
	controller := route.Controller()
	if controller == nil {
		return nil, errors.New("controller not bound")
	}
	return controller.Active()
}
