package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"scanattend/internal/apperr"
	"scanattend/internal/attendance"
	"scanattend/internal/auth"
	"scanattend/internal/model"
	"scanattend/internal/realtime"
	"scanattend/internal/store"
	"scanattend/internal/users"
)

// Deps are the collaborators a Handler serves requests with.
type Deps struct {
	Attendance *attendance.Service
	Users      *users.Service
	Tokens     *auth.Tokens
	Hub        realtime.Registry
	DB         *store.DB
	Redis      *store.Redis // nil when Redis is not configured
	Metrics    http.Handler // nil disables /metrics
	Clock      clockwork.Clock
	LivePing   time.Duration
}

type Handler struct {
	Deps
}

func New(d Deps) *Handler {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.LivePing <= 0 {
		d.LivePing = 25 * time.Second
	}
	return &Handler{Deps: d}
}

// Routes installs every endpoint on r.
func (h *Handler) Routes(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics))
	}

	api := r.Group("/api")
	api.POST("/auth/login", h.Login)

	api.GET("/attendance", h.ListAttendance)
	api.POST("/attendance", h.Ingest)
	api.GET("/attendance-range", h.AttendanceRange)
	api.GET("/devices", h.Devices)
	api.GET("/stats", h.Stats)
	api.GET("/device-activity", h.DeviceActivity)
	api.GET("/live", h.Live)

	authed := api.Group("", auth.RequireToken(h.Tokens))
	authed.GET("/auth/me", h.Me)
	authed.POST("/auth/change-password", h.ChangePassword)
	authed.POST("/change-password", h.ChangePassword)

	admin := authed.Group("", auth.RequireRole(model.RoleAdmin))
	admin.POST("/auth/register", h.RegisterUser)
	admin.GET("/users", h.ListUsers)
	admin.DELETE("/users/:username", h.DeleteUser)
	admin.PUT("/users/:username/password", h.ResetPassword)
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	ctx := c.Request.Context()
	dbHealthy := h.DB.Healthy(ctx)
	body := gin.H{"db": dbHealthy}
	healthy := dbHealthy
	if h.Redis != nil {
		redisHealthy := h.Redis.Healthy(ctx)
		body["redis"] = redisHealthy
		healthy = healthy && redisHealthy
	}

	status := http.StatusOK
	body["status"] = "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

// fail writes err as a JSON error. Server side faults are logged with their
// cause and answered with a generic message.
func fail(c *gin.Context, err error) {
	status, msg := apperr.Public(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("route", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
}
