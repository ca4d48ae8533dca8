// internal/server/server.go
// HTTP surface over the provisioning engine. Every provisioning endpoint
// returns the workflow result envelope; callers branch on its kind exactly
// like in-process callers branch on WorkflowResult.
package server

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tessierlabs/storeforge/api/schemas"
	"github.com/tessierlabs/storeforge/internal/config"
	"github.com/tessierlabs/storeforge/internal/provision"
)

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo carries a machine-readable code plus a human message.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func successResponse(data interface{}) Response {
	return Response{Success: true, Data: data}
}

func errorResponse(code, message string) Response {
	return Response{Success: false, Error: &ErrorInfo{Code: code, Message: message}}
}

var codePattern = regexp.MustCompile(`^\d{6}$`)

// Handler exposes the provisioner over HTTP.
type Handler struct {
	logger      *zap.Logger
	provisioner schemas.Provisioner
}

func NewHandler(provisioner schemas.Provisioner, logger *zap.Logger) *Handler {
	return &Handler{
		logger:      logger.Named("http"),
		provisioner: provisioner,
	}
}

// Register wires the provisioning routes onto the engine.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)

	api := r.Group("/api/provision")
	{
		api.POST("", h.start)
		api.POST("/:sessionId/captcha", h.resumeCaptcha)
		api.POST("/:sessionId/code", h.resumeTwoFactor)
		api.POST("/:sessionId/cancel", h.cancel)
		api.GET("/:sessionId/status", h.status)
	}
}

type startRequest struct {
	StoreName string `json:"storeName" binding:"required"`
	OwnerID   string `json:"ownerId" binding:"required"`
}

func (h *Handler) start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("INVALID_REQUEST", err.Error()))
		return
	}

	result := h.provisioner.Start(c.Request.Context(), req.StoreName, req.OwnerID)
	c.JSON(statusFor(result), successResponse(result))
}

func (h *Handler) resumeCaptcha(c *gin.Context) {
	result := h.provisioner.ResumeCaptcha(c.Request.Context(), c.Param("sessionId"))
	c.JSON(statusFor(result), successResponse(result))
}

type codeRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *Handler) resumeTwoFactor(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("INVALID_REQUEST", err.Error()))
		return
	}
	if !codePattern.MatchString(req.Code) {
		c.JSON(http.StatusBadRequest, errorResponse("INVALID_CODE", "verification code must be 6 digits"))
		return
	}

	result := h.provisioner.ResumeTwoFactor(c.Request.Context(), c.Param("sessionId"), req.Code)
	c.JSON(statusFor(result), successResponse(result))
}

func (h *Handler) cancel(c *gin.Context) {
	existed := h.provisioner.Cancel(c.Request.Context(), c.Param("sessionId"))
	if !existed {
		c.JSON(http.StatusNotFound, errorResponse("SESSION_NOT_FOUND", provision.ErrSessionNotFound.Error()))
		return
	}
	c.JSON(http.StatusOK, successResponse(gin.H{"canceled": true}))
}

func (h *Handler) status(c *gin.Context) {
	st, ok := h.provisioner.Status(c.Request.Context(), c.Param("sessionId"))
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse("SESSION_NOT_FOUND", provision.ErrSessionNotFound.Error()))
		return
	}
	c.JSON(http.StatusOK, successResponse(st))
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// statusFor maps a workflow result onto an HTTP status. Suspensions are 202:
// the workflow is accepted but incomplete.
func statusFor(r schemas.WorkflowResult) int {
	switch r.Kind {
	case schemas.ResultSuccess:
		return http.StatusOK
	case schemas.ResultCaptchaRequired, schemas.ResultTwoFactorRequired:
		return http.StatusAccepted
	case schemas.ResultRetryableInput:
		return http.StatusConflict
	default:
		if strings.Contains(r.Reason, provision.ErrSessionNotFound.Error()) {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	}
}

// New builds the HTTP server around a fresh gin engine.
func New(cfg config.ServerConfig, handler *Handler, logger *zap.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	handler.Register(r)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// requestLogger logs each request through the service logger instead of
// gin's default writer.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("http_access")
	return func(c *gin.Context) {
		c.Next()
		log.Info("Request handled.",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()))
	}
}
