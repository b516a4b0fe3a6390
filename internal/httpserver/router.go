// Package httpserver is the proxy's front door: it turns an incoming
// GET into an Order, drives it through the Scheduler and Tail Streamer,
// and owns the exact reply-header shape spec.md §6 requires. Grounded
// on the teacher's internal/api/router.go for middleware wiring and
// internal/api/controllers/newznab.go for the controller-dispatches-
// then-branches-on-outcome shape, replumbed from Newznab/NZB semantics
// onto the cache-object fetch path.
package httpserver

import (
	"github.com/flexo-cache/flexo/internal/app"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
)

// correlationIDKey is the echo.Context store key every request's
// generated correlation ID is kept under, so a request's access-log,
// schedule and stream lines can be grouped in the log file. Worker log
// lines do not carry it. It never reaches the client: HandleObject hijacks the raw
// connection before echo ever writes a header.
const correlationIDKey = "correlation_id"

// RegisterRoutes wires the object-fetch and status endpoints onto e.
func RegisterRoutes(e *echo.Echo, ctx *app.Context) {
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			c.Set(correlationIDKey, uuid.New().String())
			return next(c)
		}
	})

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			cid, _ := c.Get(correlationIDKey).(string)
			ctx.Logger.With(cid).Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	h := &Handler{App: ctx}

	e.GET("/status", h.HandleStatus)
	// Any method is routed here rather than just GET: HandleObject itself
	// rejects non-GET with the exact 400 reply spec.md §4.1 requires,
	// instead of letting echo's router 404/405 it first.
	e.Any("/*", h.HandleObject)
}
