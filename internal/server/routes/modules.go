package routes

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/modkit/modkit/internal/activation"
	"github.com/modkit/modkit/internal/cache"
	"github.com/modkit/modkit/internal/commandgroup"
	"github.com/modkit/modkit/internal/module"
	"github.com/modkit/modkit/internal/registry"
	"github.com/modkit/modkit/internal/runner"
	"github.com/modkit/modkit/internal/server"
)

// Registry 是路由依赖的注册表能力：读写模块状态并能清空缓存。
type Registry interface {
	registry.Repository
	ClearCache(ctx context.Context) error
	Tagged() bool
}

// Deps 汇总管理接口需要的组件，Handlers 可为空。
type Deps struct {
	Registry Registry
	Handlers *runner.Registry
	Table    commandgroup.Table
	Logger   *logrus.Logger
}

// RegisterModuleRoutes 暴露 /-/modules 与 /-/commands 管理接口。
func RegisterModuleRoutes(app *fiber.App, deps Deps) {
	if app == nil || deps.Registry == nil {
		return
	}
	reg := deps.Registry

	app.Get("/-/modules", func(c fiber.Ctx) error {
		ctx := requestContext(c)
		filter := strings.ToLower(strings.TrimSpace(c.Query("status")))
		if raw := strings.TrimSpace(c.Query("chunk")); raw != "" {
			size, err := strconv.Atoi(raw)
			if err != nil || size <= 0 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_chunk_size"})
			}
			if filter != "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "chunk_with_status_unsupported"})
			}
			return renderChunks(c, deps.Logger, reg, size)
		}

		var (
			mods []module.Module
			err  error
		)
		switch filter {
		case "":
			mods, err = reg.All(ctx)
		case "enabled":
			mods, err = reg.AllEnabled(ctx)
		case "disabled":
			mods, err = reg.AllDisabled(ctx)
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_status_filter"})
		}
		if err != nil {
			return renderError(c, deps.Logger, err)
		}
		items, err := encodeModules(ctx, reg, mods)
		if err != nil {
			return renderError(c, deps.Logger, err)
		}
		return c.JSON(fiber.Map{
			"modules": items,
			"count":   len(items),
		})
	})

	app.Get("/-/modules/:name", func(c fiber.Ctx) error {
		ctx := requestContext(c)
		name := strings.TrimSpace(c.Params("name"))
		if name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "module_name_required"})
		}
		m, ok, err := reg.Find(ctx, name)
		if err != nil {
			return renderError(c, deps.Logger, err)
		}
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "module_not_found"})
		}
		status, err := reg.Status(ctx, m.Name)
		if err != nil {
			return renderError(c, deps.Logger, err)
		}
		return c.JSON(modulePayload{Name: m.Name, Path: m.Path, Status: status.String()})
	})

	toggle := func(active bool) fiber.Handler {
		return func(c fiber.Ctx) error {
			ctx := requestContext(c)
			name := strings.TrimSpace(c.Params("name"))
			var err error
			if active {
				err = reg.Enable(ctx, name)
			} else {
				err = reg.Disable(ctx, name)
			}
			if err != nil {
				return renderError(c, deps.Logger, err)
			}
			return c.JSON(fiber.Map{"name": canonicalName(ctx, reg, name), "status": module.StatusOf(active).String()})
		}
	}
	app.Post("/-/modules/:name/enable", toggle(true))
	app.Post("/-/modules/:name/disable", toggle(false))

	app.Delete("/-/modules/:name", func(c fiber.Ctx) error {
		ctx := requestContext(c)
		name := strings.TrimSpace(c.Params("name"))
		if err := reg.Delete(ctx, name); err != nil {
			return renderError(c, deps.Logger, err)
		}
		return c.JSON(fiber.Map{"deleted": canonicalName(ctx, reg, name)})
	})

	app.Post("/-/modules/bulk", func(c fiber.Ctx) error {
		var req bulkRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
		}
		if req.Active == nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "active_required"})
		}
		if err := reg.BulkSetActive(requestContext(c), req.Names, *req.Active); err != nil {
			return renderError(c, deps.Logger, err)
		}
		return c.JSON(fiber.Map{
			"updated": len(req.Names),
			"status":  module.StatusOf(*req.Active).String(),
		})
	})

	app.Post("/-/cache/clear", func(c fiber.Ctx) error {
		if err := reg.ClearCache(requestContext(c)); err != nil {
			return renderError(c, deps.Logger, err)
		}
		strategy := "keys"
		if reg.Tagged() {
			strategy = "tag"
		}
		return c.JSON(fiber.Map{"cleared": true, "strategy": strategy})
	})

	app.Get("/-/commands", func(c fiber.Ctx) error {
		token := c.Query("token")
		sel := commandgroup.Resolve(token, deps.Table)
		payload := commandsPayload{
			Token:     token,
			Reason:    string(sel.Reason),
			Essential: sel.Essential,
			Groups:    sel.GroupNames(),
			Tokens:    sel.Tokens(),
			Loaded:    sel.Has(token),
		}
		if deps.Handlers != nil {
			var grouped []string
			for _, g := range sel.Groups {
				grouped = append(grouped, g.Members...)
			}
			payload.Handlers = deps.Handlers.Snapshot(grouped)
		}
		return c.JSON(payload)
	})
}

type modulePayload struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Status string `json:"status"`
}

type bulkRequest struct {
	Names  []string `json:"names"`
	Active *bool    `json:"active"`
}

type commandsPayload struct {
	Token     string            `json:"token"`
	Reason    string            `json:"reason"`
	Essential []string          `json:"essential"`
	Groups    []string          `json:"groups"`
	Tokens    []string          `json:"tokens"`
	Loaded    bool              `json:"loaded"`
	Handlers  map[string]string `json:"handlers,omitempty"`
}

func encodeModules(ctx context.Context, reg Registry, mods []module.Module) ([]modulePayload, error) {
	result := make([]modulePayload, 0, len(mods))
	for _, m := range mods {
		status, err := reg.Status(ctx, m.Name)
		if err != nil {
			return nil, err
		}
		result = append(result, modulePayload{Name: m.Name, Path: m.Path, Status: status.String()})
	}
	return result, nil
}

// renderChunks 返回按 size 分页的全部模块，count 为模块总数。
func renderChunks(c fiber.Ctx, logger *logrus.Logger, reg Registry, size int) error {
	ctx := requestContext(c)
	pages, err := reg.Chunks(ctx, size)
	if err != nil {
		return renderError(c, logger, err)
	}
	chunks := make([][]modulePayload, 0, len(pages))
	total := 0
	for _, page := range pages {
		items, err := encodeModules(ctx, reg, page)
		if err != nil {
			return renderError(c, logger, err)
		}
		chunks = append(chunks, items)
		total += len(items)
	}
	return c.JSON(fiber.Map{
		"chunks": chunks,
		"count":  total,
	})
}

// canonicalName 返回已发现模块的原始拼写，未知模块原样返回。
func canonicalName(ctx context.Context, reg Registry, name string) string {
	if m, ok, err := reg.Find(ctx, name); err == nil && ok {
		return m.Name
	}
	return name
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// renderError 将领域错误映射为 HTTP 状态码与稳定的错误码。
func renderError(c fiber.Ctx, logger *logrus.Logger, err error) error {
	status, code := fiber.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, registry.ErrModuleNotFound):
		status, code = fiber.StatusNotFound, "module_not_found"
	case errors.Is(err, registry.ErrInvalidName):
		status, code = fiber.StatusBadRequest, "module_name_required"
	case errors.Is(err, activation.ErrInitialization):
		status, code = fiber.StatusServiceUnavailable, "storage_initialization_failed"
	case errors.Is(err, activation.ErrBackendUnavailable), errors.Is(err, cache.ErrUnavailable):
		status, code = fiber.StatusServiceUnavailable, "backend_unavailable"
	}
	if logger != nil && status >= fiber.StatusInternalServerError {
		logger.WithFields(logrus.Fields{
			"action":     "admin_error",
			"path":       c.Path(),
			"request_id": server.RequestID(c),
		}).WithError(err).Error(code)
	}
	return c.Status(status).JSON(fiber.Map{"error": code})
}
