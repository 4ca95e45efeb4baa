package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/dkeye/voicehub/internal/adapters/session"
	"github.com/dkeye/voicehub/internal/adapters/signal"
	"github.com/dkeye/voicehub/internal/app/orch"
	"github.com/dkeye/voicehub/internal/config"
	"github.com/dkeye/voicehub/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type Deps struct {
	Orch   *orch.Orchestrator
	Signal *signal.SignalWSController
	// SessionStore enables the debug login route when set.
	SessionStore cookie.Store
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("ws signal endpoint hit")
		deps.Signal.HandleSignal(ctx, c)
	})

	api.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Orch.Stats())
	})

	api.GET("/channels/:id/presence", func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
			return
		}
		p, err := deps.Orch.Presence(c.Request.Context(), domain.ChannelID(id))
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Int64("channel", id).Msg("presence")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "membership unavailable"})
			return
		}
		c.JSON(http.StatusOK, p)
	})

	if cfg.Mode == "debug" && deps.SessionStore != nil {
		dev := api.Group("/dev", sessions.Sessions(cfg.Session.CookieName, deps.SessionStore))
		dev.POST("/login", devLogin)
		log.Warn().Str("module", "adapters.http").Msg("debug login route enabled")
	}

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

type loginRequest struct {
	UserID int64 `json:"userId" binding:"required"`
}

// devLogin mints a cookie session for any user id. Debug mode only.
func devLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	uid, err := domain.ParseUserID(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s := sessions.Default(c)
	s.Set(session.UserIDKey, int64(uid))
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session save failed"})
		return
	}
	log.Info().Str("module", "adapters.http").Stringer("uid", uid).Msg("dev login")
	c.JSON(http.StatusOK, gin.H{"userId": uid})
}
