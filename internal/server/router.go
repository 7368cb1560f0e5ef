package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/modkit/modkit/internal/logging"
)

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	ListenPort int
}

const contextKeyRequestID = "_modkit_request_id"

// NewApp builds a Fiber application with request-id and access-log middleware.
// Admin routes live under /-/ and are attached by the routes package; any
// other path answers 404 route_not_found.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts))

	return app, nil
}

// MountFallback registers the catch-all handler. Call it after every admin
// route has been attached.
func MountFallback(app *fiber.App, logger *logrus.Logger) {
	app.All("/*", func(c fiber.Ctx) error {
		path := string(c.Request().URI().Path())
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"action":     "route_lookup",
				"path":       path,
				"request_id": RequestID(c),
			}).Warn("route not found")
		}
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "route_not_found",
		})
	})
}

// requestContextMiddleware 负责生成请求 ID，并在请求结束后输出访问日志。
func requestContextMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		started := time.Now()
		err := c.Next()

		if IsAdminPath(string(c.Request().URI().Path())) {
			fields := logging.RequestFields(reqID, c.Method(), c.Path(), c.Response().StatusCode())
			fields["duration_ms"] = time.Since(started).Milliseconds()
			opts.Logger.WithFields(fields).Debug("admin_request")
		}
		return err
	}
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

// IsAdminPath reports whether path belongs to the /-/ admin namespace.
func IsAdminPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
