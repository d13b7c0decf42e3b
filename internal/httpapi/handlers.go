package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ccbridge/internal/manager"
	"ccbridge/internal/model"
	"ccbridge/internal/platform"
	"ccbridge/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call the manager, return JSON.
type Handlers struct {
	Manager *manager.Manager

	// TwilioAuthToken enables webhook signature validation when set.
	TwilioAuthToken string
}

// --- platform registry ---

type addPlatformRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`

	Credentials struct {
		ClientID     string `json:"client_id,omitempty"`
		ClientSecret string `json:"client_secret,omitempty"`
		AccountSID   string `json:"account_sid,omitempty"`
		AuthToken    string `json:"auth_token,omitempty"`
		Region       string `json:"region,omitempty"`
	} `json:"credentials"`

	WebhookURL        string `json:"webhook_url,omitempty"`
	PollingIntervalMS int    `json:"polling_interval_ms,omitempty"`
	Enabled           bool   `json:"enabled"`
}

func (h Handlers) ListPlatforms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"platforms": h.Manager.ListPlatforms()})
}

// reqCtx carries the request-scoped logger into manager operations, so
// control-path log lines can be tied back to the request.
func reqCtx(c *gin.Context) context.Context {
	return logger.With(c.Request.Context(), logger.FromGin(c))
}

func (h Handlers) AddPlatform(c *gin.Context) {
	var req addPlatformRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ID == "" || req.Type == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "id and type required"})
		return
	}

	cfg := model.PlatformConfig{
		ID:   req.ID,
		Name: req.Name,
		Type: model.PlatformType(req.Type),
		Credentials: model.Credentials{
			ClientID:     req.Credentials.ClientID,
			ClientSecret: req.Credentials.ClientSecret,
			AccountSID:   req.Credentials.AccountSID,
			AuthToken:    req.Credentials.AuthToken,
			Region:       req.Credentials.Region,
		},
		WebhookURL:      req.WebhookURL,
		PollingInterval: time.Duration(req.PollingIntervalMS) * time.Millisecond,
		Enabled:         req.Enabled,
	}

	if err := h.Manager.AddPlatform(reqCtx(c), cfg); err != nil {
		abortWithPlatformError(c, err)
		return
	}
	st, _ := h.Manager.PlatformStatus(req.ID)
	c.JSON(http.StatusCreated, st)
}

func (h Handlers) RemovePlatform(c *gin.Context) {
	if err := h.Manager.RemovePlatform(reqCtx(c), c.Param("id")); err != nil {
		abortWithPlatformError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}

func (h Handlers) ConnectPlatform(c *gin.Context) {
	id := c.Param("id")
	if err := h.Manager.ConnectPlatform(reqCtx(c), id); err != nil {
		abortWithPlatformError(c, err)
		return
	}
	st, _ := h.Manager.PlatformStatus(id)
	c.JSON(http.StatusOK, st)
}

func (h Handlers) DisconnectPlatform(c *gin.Context) {
	id := c.Param("id")
	if err := h.Manager.DisconnectPlatform(reqCtx(c), id); err != nil {
		abortWithPlatformError(c, err)
		return
	}
	st, _ := h.Manager.PlatformStatus(id)
	c.JSON(http.StatusOK, st)
}

func (h Handlers) PlatformStatus(c *gin.Context) {
	st, err := h.Manager.PlatformStatus(c.Param("id"))
	if err != nil {
		abortWithPlatformError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h Handlers) PlatformMetrics(c *gin.Context) {
	m, err := h.Manager.FetchCurrentMetrics(reqCtx(c), c.Param("id"))
	if err != nil {
		abortWithPlatformError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// --- historical queries ---

type historicalRequest struct {
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	QueueID string    `json:"queue_id,omitempty"`
	AgentID string    `json:"agent_id,omitempty"`
	Limit   int       `json:"limit,omitempty"`
}

// HistoricalData fans the query across connected platforms. The response is a
// partial result map; per-platform failures surface on the error channel, not
// here.
func (h Handlers) HistoricalData(c *gin.Context) {
	var req historicalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.From.IsZero() || req.To.IsZero() || !req.To.After(req.From) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from/to must form a positive range"})
		return
	}

	data := h.Manager.GetHistoricalData(reqCtx(c), model.HistoricalQuery{
		From:    req.From,
		To:      req.To,
		QueueID: req.QueueID,
		AgentID: req.AgentID,
		Limit:   req.Limit,
	})
	c.JSON(http.StatusOK, gin.H{"results": data})
}

// --- vendor webhook ingress ---

// statusCallbackSink is the vendor-specific entry point poll-plus-webhook
// adapters expose.
type statusCallbackSink interface {
	HandleStatusCallback(r *http.Request) error
}

// TwilioVoiceWebhook routes a Twilio voice status callback to the owning
// adapter. The platform id rides in the path so one process can serve
// several Twilio accounts.
func (h Handlers) TwilioVoiceWebhook(c *gin.Context) {
	log := logger.FromGin(c)

	ad, err := h.Manager.Get(c.Param("id"))
	if err != nil {
		abortWithPlatformError(c, err)
		return
	}
	sink, ok := ad.(statusCallbackSink)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "platform does not accept voice callbacks"})
		return
	}

	if h.TwilioAuthToken != "" {
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}
		sig := c.GetHeader("X-Twilio-Signature")
		url := callbackURL(c.Request)
		if !twilioSignatureValid(h.TwilioAuthToken, url, c.Request, sig) {
			log.Warn("twilio webhook signature rejected", "platform_id", c.Param("id"))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "bad signature"})
			return
		}
	}

	if err := sink.HandleStatusCallback(c.Request); err != nil {
		abortWithPlatformError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

func abortWithPlatformError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var (
		cfgErr   *platform.ConfigurationError
		lifeErr  *platform.LifecycleError
		transErr *platform.TransportError
		valErr   *platform.ValidationError
	)
	switch {
	case errors.Is(err, platform.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, platform.ErrDuplicate):
		status = http.StatusConflict
	case errors.As(err, &valErr):
		status = http.StatusBadRequest
	case errors.As(err, &cfgErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &lifeErr):
		status = http.StatusConflict
	case errors.As(err, &transErr):
		status = http.StatusBadGateway
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
