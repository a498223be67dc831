package api

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"templaterepo/internal/server/service"
)

// Check is the access policy a route requires.
type Check int

const (
	CheckNone Check = iota
	CheckIP
	CheckMAC
)

func (c Check) String() string {
	switch c {
	case CheckIP:
		return "ip"
	case CheckMAC:
		return "mac"
	default:
		return "none"
	}
}

// Route binds an API name to its method, access policy and handler.
type Route struct {
	Method  string
	Check   Check
	Handler echo.HandlerFunc
}

// Dispatcher resolves <prefix>/:api against a static route table.
type Dispatcher struct {
	routes map[string]Route
	access *service.AccessControl
}

// NewDispatcher builds the route table around h.
func NewDispatcher(h *Handler, access *service.AccessControl) *Dispatcher {
	return &Dispatcher{
		access: access,
		routes: map[string]Route{
			"list":     {Method: http.MethodGet, Check: CheckNone, Handler: h.HandleList},
			"sync":     {Method: http.MethodPost, Check: CheckMAC, Handler: h.HandleSync},
			"upload":   {Method: http.MethodPost, Check: CheckIP, Handler: h.HandleUpload},
			"update":   {Method: http.MethodPost, Check: CheckIP, Handler: h.HandleUpdate},
			"delete":   {Method: http.MethodPost, Check: CheckIP, Handler: h.HandleDelete},
			"download": {Method: http.MethodPost, Check: CheckMAC, Handler: h.HandleDownload},
		},
	}
}

// Dispatch runs the guard chain for the requested API and invokes its
// handler only when every guard passes.
func (d *Dispatcher) Dispatch(c echo.Context) error {
	req := c.Request()

	route, ok := d.routes[c.Param("api")]
	if !ok {
		slog.Warn("unknown api requested", "path", req.URL.Path, "ip", c.RealIP())
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	}

	if req.Method != route.Method {
		c.Response().Header().Set(echo.HeaderAllow, route.Method)
		return c.JSON(http.StatusMethodNotAllowed, echo.Map{"error": "method not allowed"})
	}

	switch route.Check {
	case CheckIP:
		if !d.access.CheckIP(req.Context(), c.RealIP()) {
			slog.Warn("access denied", "check", route.Check, "ip", c.RealIP(), "path", req.URL.Path)
			return c.JSON(http.StatusForbidden, echo.Map{"error": "Deny access to your IP address."})
		}
	case CheckMAC:
		if !d.access.CheckMAC(req.Context(), c.FormValue("mac_addr")) {
			slog.Warn("access denied", "check", route.Check, "ip", c.RealIP(), "path", req.URL.Path)
			return c.JSON(http.StatusForbidden, echo.Map{"error": "Deny access to your Mac address."})
		}
	}

	return route.Handler(c)
}
