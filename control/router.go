package control

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/imtaco/voice-client-exp/internal/errors"
	"github.com/imtaco/voice-client-exp/internal/log"
	"github.com/imtaco/voice-client-exp/internal/validation"
	"github.com/imtaco/voice-client-exp/voice"
	"github.com/imtaco/voice-client-exp/voice/coordinator"
	"github.com/imtaco/voice-client-exp/voice/devices"
)

// VoiceControl is the coordinator surface the local control API drives.
type VoiceControl interface {
	Snapshot() coordinator.Snapshot
	Join(ctx context.Context, spaceID voice.SpaceID, channelID voice.ChannelID) error
	Leave(ctx context.Context) error
	SetMute(ctx context.Context, muted bool)
	SetDeaf(ctx context.Context, deafened bool)
	SetInputDevice(ctx context.Context, deviceID string) error
	SetOutputDevice(ctx context.Context, deviceID string) error
}

// DeviceDirectory exposes the device registry to the control API.
type DeviceDirectory interface {
	Refresh(ctx context.Context) error
	List(kind devices.Kind) []devices.Info
	Selected(kind devices.Kind) string
	Select(ctx context.Context, kind devices.Kind, deviceID string) error
}

// RosterView is the read side of channel membership.
type RosterView interface {
	Channel(channelID voice.ChannelID) []voice.State
}

type Router struct {
	ctrl     VoiceControl
	registry DeviceDirectory
	roster   RosterView
	engine   *gin.Engine
	logger   *log.Logger
}

func NewRouter(ctrl VoiceControl, registry DeviceDirectory, roster RosterView, logger *log.Logger) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	// Add OpenTelemetry middleware for automatic HTTP tracing
	engine.Use(otelgin.Middleware("voice-client"))

	// The control API is consumed by a local UI served from another origin
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}))

	r := &Router{
		ctrl:     ctrl,
		registry: registry,
		roster:   roster,
		engine:   engine,
		logger:   logger,
	}

	r.setupRoutes()
	return r
}

func (r *Router) Handler() http.Handler {
	return r.engine
}

func (r *Router) setupRoutes() {
	// Voice connection routes
	r.engine.GET("/api/status", r.getStatus)
	r.engine.POST("/api/voice/join", r.join)
	r.engine.POST("/api/voice/leave", r.leave)
	r.engine.POST("/api/voice/mute", r.setMute)
	r.engine.POST("/api/voice/deafen", r.setDeafen)

	// Device routes
	r.engine.GET("/api/devices", r.listDevices)
	r.engine.POST("/api/devices/refresh", r.refreshDevices)
	r.engine.PUT("/api/devices/selection", r.selectDevice)

	// Roster routes
	r.engine.GET("/api/channels/:channelId/roster", r.getRoster)

	// Health check
	r.engine.GET("/health", r.healthCheck)
}

func (r *Router) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.ctrl.Snapshot())
}

func (r *Router) join(c *gin.Context) {
	var body JoinBody

	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}

	ctx := c.Request.Context()

	if err := r.ctrl.Join(ctx, voice.SpaceID(body.SpaceID), voice.ChannelID(body.ChannelID)); err != nil {
		r.logger.Error("Failed to join channel",
			log.String("spaceId", body.SpaceID),
			log.String("channelId", body.ChannelID),
			log.Error(err))
		joinsFailed.Add(ctx, 1)
		c.JSON(statusFor(err), gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	r.logger.Info("Joined channel",
		log.String("spaceId", body.SpaceID),
		log.String("channelId", body.ChannelID))

	c.JSON(http.StatusOK, r.ctrl.Snapshot())
}

func (r *Router) leave(c *gin.Context) {
	ctx := c.Request.Context()

	if err := r.ctrl.Leave(ctx); err != nil {
		r.logger.Error("Failed to leave channel", log.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, r.ctrl.Snapshot())
}

func (r *Router) setMute(c *gin.Context) {
	var body MuteBody

	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}

	r.ctrl.SetMute(c.Request.Context(), *body.Muted)
	c.JSON(http.StatusOK, r.ctrl.Snapshot())
}

func (r *Router) setDeafen(c *gin.Context) {
	var body DeafenBody

	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}

	r.ctrl.SetDeaf(c.Request.Context(), *body.Deafened)
	c.JSON(http.StatusOK, r.ctrl.Snapshot())
}

func (r *Router) listDevices(c *gin.Context) {
	var query ListDevicesQuery

	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}

	kinds := []devices.Kind{devices.KindAudioInput, devices.KindAudioOutput, devices.KindVideoInput}
	if query.Kind != "" {
		kinds = []devices.Kind{devices.Kind(query.Kind)}
	}

	result := gin.H{}
	for _, kind := range kinds {
		list := r.registry.List(kind)
		if list == nil {
			list = []devices.Info{}
		}
		result[string(kind)] = gin.H{
			"devices":  list,
			"selected": r.registry.Selected(kind),
		}
	}

	c.JSON(http.StatusOK, result)
}

func (r *Router) refreshDevices(c *gin.Context) {
	ctx := c.Request.Context()

	if err := r.registry.Refresh(ctx); err != nil {
		r.logger.Error("Failed to refresh devices", log.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	r.listDevices(c)
}

func (r *Router) selectDevice(c *gin.Context) {
	var body SelectDeviceBody

	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}

	ctx := c.Request.Context()

	// Audio selections go through the coordinator so a live session
	// retargets its capture or playback immediately.
	var err error
	switch devices.Kind(body.Kind) {
	case devices.KindAudioInput:
		err = r.ctrl.SetInputDevice(ctx, body.DeviceID)
	case devices.KindAudioOutput:
		err = r.ctrl.SetOutputDevice(ctx, body.DeviceID)
	default:
		err = r.registry.Select(ctx, devices.Kind(body.Kind), body.DeviceID)
	}
	if err != nil {
		r.logger.Error("Failed to select device",
			log.String("kind", body.Kind),
			log.String("deviceId", body.DeviceID),
			log.Error(err))
		c.JSON(statusFor(err), gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	r.logger.Info("Device selected",
		log.String("kind", body.Kind),
		log.String("deviceId", body.DeviceID))

	deviceSelections.Add(ctx, 1)

	c.JSON(http.StatusOK, gin.H{
		"kind":     body.Kind,
		"selected": body.DeviceID,
	})
}

func (r *Router) getRoster(c *gin.Context) {
	var uriParams RosterURI

	if err := c.ShouldBindUri(&uriParams); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"details": validation.FormatValidationError(err),
		})
		return
	}

	states := r.roster.Channel(voice.ChannelID(uriParams.ChannelID))
	if states == nil {
		states = []voice.State{}
	}

	c.JSON(http.StatusOK, gin.H{
		"channelId": uriParams.ChannelID,
		"members":   states,
	})
}

func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, voice.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, voice.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, devices.ErrUnknownDevice), errors.Is(err, devices.ErrUnknownKind):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
