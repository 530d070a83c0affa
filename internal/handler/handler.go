// Package handler is the HTTP edge: collection endpoints, identify, the
// commerce webhook receiver, and metrics.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Devlore1501/identitysync-pro-sub001/internal/archive"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/domain"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/dto"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/ingest"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/queue"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/store"
	"github.com/Devlore1501/identitysync-pro-sub001/internal/webhook"
)

const tenantIDKey = "tenant_id"

// IngestService is the ingestion surface the handlers call.
type IngestService interface {
	IngestEvent(ctx context.Context, raw domain.RawEvent) (*ingest.Result, error)
	Identify(ctx context.Context, req ingest.IdentifyRequest) (*ingest.IdentifyResult, error)
}

// MetricsProvider answers aggregate queries over archived events.
type MetricsProvider interface {
	GetMetrics(ctx context.Context, query archive.MetricsQuery) (*archive.MetricsResult, error)
}

type Handler struct {
	ingester  IngestService
	tenants   store.TenantStore
	publisher queue.Publisher
	metrics   MetricsProvider // nil when the archive is disabled
	router    *gin.Engine
	log       *zap.Logger
}

// NewHandler wires the HTTP routes. metrics may be nil; the metrics endpoint
// then reports the archive as unavailable.
func NewHandler(ingester IngestService, tenants store.TenantStore, publisher queue.Publisher, metrics MetricsProvider, log *zap.Logger) *Handler {
	h := &Handler{
		ingester:  ingester,
		tenants:   tenants,
		publisher: publisher,
		metrics:   metrics,
		router:    gin.Default(),
		log:       log,
	}

	h.registerRoutes()

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", h.healthCheck)

	v1 := h.router.Group("/v1")
	v1.POST("/webhooks/commerce/:tenant", h.receiveWebhook)

	authed := v1.Group("", h.apiKeyAuth)
	authed.POST("/events", h.collectEvent)
	authed.POST("/track", h.trackEvent)
	authed.POST("/identify", h.identify)
	authed.GET("/metrics", h.getMetrics)
}

// apiKeyAuth resolves the X-API-Key header to a tenant. The key must be
// live and carry the collect capability.
func (h *Handler) apiKeyAuth(c *gin.Context) {
	key := c.GetHeader("X-API-Key")
	if key == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error:   "unauthorized",
			Message: "missing X-API-Key header",
		})
		return
	}

	apiKey, err := h.tenants.GetAPIKey(c.Request.Context(), key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			h.log.Error("Failed to resolve API key", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error: "unauthorized",
		})
		return
	}

	if !apiKey.Allows(domain.CapabilityCollect) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{
			Error: "unauthorized",
		})
		return
	}

	c.Set(tenantIDKey, apiKey.TenantID)
	c.Next()
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// collectEvent handles POST /v1/events, the browser pixel path.
func (h *Handler) collectEvent(c *gin.Context) {
	var req dto.CollectEventRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid collect request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	raw := domain.RawEvent{
		TenantID:    c.GetString(tenantIDKey),
		Name:        req.Event,
		Properties:  req.Properties,
		AnonymousID: req.AnonymousID,
		SessionID:   req.SessionID,
		Source:      domain.SourceJS,
		EventTime:   eventTime(req.Timestamp),
		Context: domain.EventContext{
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		},
	}
	if req.Context != nil {
		raw.Context.PageURL = req.Context.PageURL
		raw.Context.Referrer = req.Context.Referrer
		if req.Context.UserAgent != "" {
			raw.Context.UserAgent = req.Context.UserAgent
		}
	}

	h.respondIngest(c, raw)
}

// trackEvent handles POST /v1/track, the server-to-server path. Identity
// hints may ride along with the event.
func (h *Handler) trackEvent(c *gin.Context) {
	var req dto.TrackEventRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid track request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	raw := domain.RawEvent{
		TenantID:      c.GetString(tenantIDKey),
		Name:          req.Event,
		Properties:    req.Properties,
		AnonymousID:   req.AnonymousID,
		SessionID:     req.SessionID,
		Email:         req.Email,
		Phone:         req.Phone,
		CustomerID:    req.CustomerID,
		TransactionID: req.TransactionID,
		Source:        domain.SourceServer,
		EventTime:     eventTime(req.Timestamp),
		Context: domain.EventContext{
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		},
	}

	h.respondIngest(c, raw)
}

// respondIngest runs one raw event through ingestion and writes the
// response.
func (h *Handler) respondIngest(c *gin.Context, raw domain.RawEvent) {
	result, err := h.ingester.IngestEvent(c.Request.Context(), raw)
	if err != nil {
		h.respondError(c, err, "Failed to ingest event",
			zap.String("tenant_id", raw.TenantID),
			zap.String("event", raw.Name))
		return
	}

	status := "processed"
	if result.Duplicate {
		status = "duplicate"
	}

	c.JSON(http.StatusAccepted, dto.CollectEventResponse{
		EventID:   result.Event.ID,
		ProfileID: result.Event.ProfileID,
		Status:    status,
		Duplicate: result.Duplicate,
	})
}

// identify handles POST /v1/identify.
func (h *Handler) identify(c *gin.Context) {
	var req dto.IdentifyRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid identify request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	result, err := h.ingester.Identify(c.Request.Context(), ingest.IdentifyRequest{
		TenantID:    c.GetString(tenantIDKey),
		AnonymousID: req.AnonymousID,
		CustomerID:  req.CustomerID,
		Email:       req.Email,
		Phone:       req.Phone,
		Traits:      req.Traits,
	})
	if err != nil {
		h.respondError(c, err, "Failed to identify",
			zap.String("tenant_id", c.GetString(tenantIDKey)))
		return
	}

	c.JSON(http.StatusOK, dto.IdentifyResponse{
		UnifiedUserID:   result.UnifiedUserID,
		IsNewUser:       result.IsNewUser,
		EventsLinked:    result.EventsLinked,
		SyncJobsCreated: result.SyncJobsCreated,
	})
}

// receiveWebhook handles POST /v1/webhooks/commerce/:tenant. The delivery is
// verified against the tenant's shared secret, mapped to a raw event, and
// buffered on the queue; the worker ingests it asynchronously.
func (h *Handler) receiveWebhook(c *gin.Context) {
	tenantID := c.Param("tenant")

	tenant, err := h.tenants.GetTenant(c.Request.Context(), tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "not_found"})
			return
		}
		h.log.Error("Failed to load tenant for webhook", zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal_error"})
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: "unreadable body",
		})
		return
	}

	signature := c.GetHeader(webhook.SignatureHeader)
	if !webhook.VerifySignature(tenant.WebhookSecret, body, signature) {
		h.log.Warn("Webhook signature mismatch", zap.String("tenant_id", tenantID))
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "unauthorized"})
		return
	}

	topic := c.GetHeader(webhook.TopicHeader)
	raw, err := webhook.MapDelivery(tenantID, topic, body, time.Now().UTC())
	if err != nil {
		h.log.Warn("Unmappable webhook delivery",
			zap.String("tenant_id", tenantID),
			zap.String("topic", topic),
			zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	if err := h.publisher.PublishRawEvent(c.Request.Context(), &raw); err != nil {
		h.log.Error("Failed to buffer webhook event",
			zap.String("tenant_id", tenantID),
			zap.String("topic", topic),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal_error"})
		return
	}

	c.JSON(http.StatusAccepted, dto.WebhookResponse{Status: "queued"})
}

// getMetrics handles GET /v1/metrics against the analytics archive.
func (h *Handler) getMetrics(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
			Error:   "archive_disabled",
			Message: "analytics archive is not configured",
		})
		return
	}

	var req dto.GetMetricsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.log.Warn("Invalid metrics request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	if req.From > req.To {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: "from must not be after to",
		})
		return
	}

	result, err := h.metrics.GetMetrics(c.Request.Context(), archive.MetricsQuery{
		TenantID:  c.GetString(tenantIDKey),
		EventType: req.EventType,
		From:      req.From,
		To:        req.To,
		GroupBy:   req.GroupBy,
	})
	if err != nil {
		h.log.Error("Failed to query metrics",
			zap.String("tenant_id", c.GetString(tenantIDKey)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
		return
	}

	resp := dto.GetMetricsResponse{
		EventType:   req.EventType,
		From:        req.From,
		To:          req.To,
		TotalCount:  result.TotalCount,
		UniqueCount: result.UniqueCount,
		GroupBy:     req.GroupBy,
	}
	for _, g := range result.Groups {
		resp.Groups = append(resp.Groups, dto.MetricsGroupData{
			GroupValue: g.GroupValue,
			TotalCount: g.TotalCount,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// respondError maps domain errors to HTTP statuses.
func (h *Handler) respondError(c *gin.Context, err error, msg string, fields ...zap.Field) {
	switch {
	case domain.IsValidation(err):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
	case errors.Is(err, domain.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "unauthorized"})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "not_found"})
	default:
		h.log.Error(msg, append(fields, zap.Error(err))...)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
	}
}

// eventTime converts an optional client epoch-seconds timestamp; zero means
// receipt time, which ingestion fills in.
func eventTime(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}
