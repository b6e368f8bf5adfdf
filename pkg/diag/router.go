// Package diag is the bridge's introspection surface: a small Gin HTTP
// server exposing process liveness, the live link/NCP state, and Prometheus
// metrics. It is entirely ambient/outer glue, the spiritual descendant of
// the teacher's device-control API, repointed at bridge introspection since
// the bridge has no "devices" to CRUD.
package diag

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/proman21/ezsp-spi-bridge/pkg/ash"
	"github.com/proman21/ezsp-spi-bridge/pkg/ncp"
)

// SessionView is the subset of pkg/bridge.Session the diagnostics surface
// needs; kept as an interface so pkg/diag never depends on net.Conn/TCP
// wiring details.
type SessionView interface {
	ID() string
	State() ash.LinkState
	NcpState() ncp.State
}

// Router holds the Gin engine for the diagnostics surface. Active is read on
// every /status request, so cmd/bridge can swap it as client sessions come
// and go without restarting the server.
type Router struct {
	engine *gin.Engine
	Active func() SessionView
}

// NewRouter builds the diagnostics router. active is called on every
// /status request to look up whichever session is live right now; it may
// return nil when no client is connected.
func NewRouter(active func() SessionView) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger())
	engine.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Accept"},
		MaxAge:       12 * time.Hour,
	}))

	r := &Router{engine: engine, Active: active}
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.engine.GET("/healthz", r.healthz)
	r.engine.GET("/status", r.status)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (r *Router) healthz(c *gin.Context) {
	c.JSON(200, HealthResponse{Status: "ok", Timestamp: time.Now()})
}

func (r *Router) status(c *gin.Context) {
	sess := r.Active()
	if sess == nil {
		c.JSON(200, StatusResponse{
			LinkState: "idle",
			NcpState:  ncp.Unknown.String(),
			Timestamp: time.Now(),
		})
		return
	}

	state := sess.State()
	linkState := "failed"
	if state.Kind == ash.LinkConnected {
		linkState = "connected"
	}

	c.JSON(200, StatusResponse{
		SessionID: sess.ID(),
		LinkState: linkState,
		NcpState:  sess.NcpState().String(),
		Reject:    state.Reject,
		Inflight:  uint8(state.Inflight),
		Acked:     uint8(state.Acked),
		Timestamp: time.Now(),
	})
}

// Run starts the diagnostics HTTP server.
func (r *Router) Run(addr string) error {
	return r.engine.Run(addr)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("diag request")
	}
}
