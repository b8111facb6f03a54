package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/agent"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/config"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/signaling"
	"github.com/jfhcl/connect-v2v-translation-with-cx-options/internal/tts"
)

// Server bundles HTTP router and dependencies.
type Server struct {
	Router http.Handler
}

// Deps are the handlers and services behind the routes.
type Deps struct {
	Signaling   http.Handler
	Translator  agent.Translator
	Synthesizer tts.Synthesizer
}

// New constructs the HTTP server with routes.
func New(cfg config.Config, deps Deps) *Server {
	e := newEcho()
	timeout := cfg.ServiceTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	if deps.Signaling != nil {
		e.GET("/ws", echo.WrapHandler(deps.Signaling))
	}

	api := e.Group("/api", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rtcAuthOK(c.Request(), cfg.AuthPassword) {
				return echo.NewHTTPError(http.StatusUnauthorized)
			}
			return next(c)
		}
	})

	api.GET("/languages", func(c echo.Context) error {
		if deps.Translator == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, agent.ErrNotConfigured.Error())
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
		defer cancel()
		langs, err := deps.Translator.ListLanguages(ctx)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		return c.JSON(http.StatusOK, langs)
	})

	api.GET("/voices", func(c echo.Context) error {
		if deps.Synthesizer == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, agent.ErrNotConfigured.Error())
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
		defer cancel()
		engine := c.QueryParam("engine")
		if engine == "" {
			engine = cfg.PollyEngine
		}
		voices, err := deps.Synthesizer.DescribeVoices(ctx, c.QueryParam("languageCode"), engine)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		return c.JSON(http.StatusOK, voices)
	})

	return &Server{Router: e}
}

func rtcAuthOK(r *http.Request, expected string) bool {
	return signaling.AuthOK(r, expected)
}
