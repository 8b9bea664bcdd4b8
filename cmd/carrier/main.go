package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Mock carrier for local development: accepts sends, fabricates
// carrier message ids, and can split a reply into multipart fragments
// the way real carriers do.

const (
	StatusDelivered = "DELIVERED"
	StatusFailed    = "FAILED"
)

// maxPartLen is the per-fragment body limit the splitter applies when
// fabricating inbound multipart replies.
const maxPartLen = 153

type SendMessageRequest struct {
	MessageID   string `json:"message_id" binding:"required"`
	PhoneNumber string `json:"phone_number" binding:"required"`
	FromNumber  string `json:"from_number"`
	Content     string `json:"content" binding:"required"`
}

type SendMessageResponse struct {
	MessageID        string     `json:"message_id"`
	CarrierMessageID string     `json:"carrier_message_id"`
	Status           string     `json:"status"`
	ProcessedAt      time.Time  `json:"processed_at"`
	DeliveredAt      *time.Time `json:"delivered_at,omitempty"`
	ErrorCode        string     `json:"error_code,omitempty"`
	ErrorMsg         string     `json:"error_message,omitempty"`
}

// InboundRequest asks the mock to fabricate the fragments of one
// inbound reply.
type InboundRequest struct {
	ContactNumber string `json:"contact_number" binding:"required"`
	UserNumber    string `json:"user_number" binding:"required"`
	Body          string `json:"body" binding:"required"`
	Shuffle       bool   `json:"shuffle"`
}

type InboundFragment struct {
	CarrierMessageID string `json:"carrier_message_id"`
	GroupID          string `json:"group_id,omitempty"`
	PartIndex        int    `json:"part_index"`
	TotalParts       int    `json:"total_parts"`
	ContactNumber    string `json:"contact_number"`
	UserNumber       string `json:"user_number"`
	Body             string `json:"body"`
}

type MockCarrier struct {
	deliveryRate float64
	minDelay     time.Duration
	maxDelay     time.Duration
	carrierID    string
	rng          *rand.Rand
}

func NewMockCarrier(deliveryRate float64, minDelay, maxDelay time.Duration) *MockCarrier {
	return &MockCarrier{
		deliveryRate: deliveryRate,
		minDelay:     minDelay,
		maxDelay:     maxDelay,
		carrierID:    "MOCK_CARRIER_" + uuid.New().String()[:8],
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *MockCarrier) simulateSend(req *SendMessageRequest) *SendMessageResponse {
	time.Sleep(m.randomDelay())

	response := &SendMessageResponse{
		MessageID:        req.MessageID,
		CarrierMessageID: "CM" + uuid.New().String(),
		ProcessedAt:      time.Now(),
	}

	if m.shouldSucceed() {
		now := time.Now()
		response.Status = StatusDelivered
		response.DeliveredAt = &now

		log.Info().
			Str("message_id", req.MessageID).
			Str("phone", req.PhoneNumber).
			Str("carrier_message_id", response.CarrierMessageID).
			Msg("message delivered")
	} else {
		response.Status = StatusFailed
		response.ErrorCode = m.randomErrorCode()
		response.ErrorMsg = m.errorMessage(response.ErrorCode)

		log.Warn().
			Str("message_id", req.MessageID).
			Str("phone", req.PhoneNumber).
			Str("error_code", response.ErrorCode).
			Msg("message delivery failed")
	}

	return response
}

// splitInbound fabricates the fragments a carrier would POST back for
// one reply. Long bodies become a multipart group; Shuffle delivers the
// fragments out of order.
func (m *MockCarrier) splitInbound(req *InboundRequest) []InboundFragment {
	runes := []rune(req.Body)
	total := (len(runes) + maxPartLen - 1) / maxPartLen
	if total == 0 {
		total = 1
	}

	groupID := ""
	if total > 1 {
		groupID = "GRP" + uuid.New().String()[:12]
	}

	fragments := make([]InboundFragment, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxPartLen
		end := start + maxPartLen
		if end > len(runes) {
			end = len(runes)
		}
		fragments = append(fragments, InboundFragment{
			CarrierMessageID: "IN" + uuid.New().String(),
			GroupID:          groupID,
			PartIndex:        i,
			TotalParts:       total,
			ContactNumber:    req.ContactNumber,
			UserNumber:       req.UserNumber,
			Body:             string(runes[start:end]),
		})
	}

	if req.Shuffle {
		m.rng.Shuffle(len(fragments), func(i, j int) {
			fragments[i], fragments[j] = fragments[j], fragments[i]
		})
	}
	return fragments
}

func (m *MockCarrier) randomDelay() time.Duration {
	delta := m.maxDelay - m.minDelay
	if delta <= 0 {
		return m.minDelay
	}
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockCarrier) shouldSucceed() bool {
	return m.rng.Float64() < m.deliveryRate
}

func (m *MockCarrier) randomErrorCode() string {
	errorCodes := []string{
		"INVALID_NUMBER",
		"NETWORK_ERROR",
		"TIMEOUT",
		"BLOCKED",
		"CARRIER_REJECTED",
	}
	return errorCodes[m.rng.Intn(len(errorCodes))]
}

func (m *MockCarrier) errorMessage(code string) string {
	messages := map[string]string{
		"INVALID_NUMBER":   "the phone number is invalid or not in service",
		"NETWORK_ERROR":    "network connectivity issue with carrier",
		"TIMEOUT":          "message delivery timed out",
		"BLOCKED":          "the recipient has blocked texts from this number",
		"CARRIER_REJECTED": "carrier rejected the message",
	}
	if msg, ok := messages[code]; ok {
		return msg
	}
	return "unknown error occurred"
}

type Handler struct {
	carrier    *MockCarrier
	webhookURL string
	httpClient *http.Client
}

func NewHandler(carrier *MockCarrier, webhookURL string) *Handler {
	return &Handler{
		carrier:    carrier,
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// deliverWebhooks posts each fabricated fragment to the engine's
// inbound endpoint, the way a real carrier delivers parts one request
// at a time.
func (h *Handler) deliverWebhooks(fragments []InboundFragment) {
	for _, f := range fragments {
		body, err := json.Marshal(f)
		if err != nil {
			continue
		}
		resp, err := h.httpClient.Post(h.webhookURL, "application/json", bytes.NewReader(body))
		if err != nil {
			log.Warn().Err(err).Str("carrier_message_id", f.CarrierMessageID).Msg("webhook delivery failed")
			continue
		}
		resp.Body.Close()
		log.Info().
			Str("carrier_message_id", f.CarrierMessageID).
			Int("status", resp.StatusCode).
			Msg("webhook delivered")
	}
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request",
			"details": err.Error(),
		})
		return
	}

	log.Info().
		Str("message_id", req.MessageID).
		Str("phone", req.PhoneNumber).
		Str("from", req.FromNumber).
		Msg("received send request")

	response := h.carrier.simulateSend(&req)

	statusCode := http.StatusOK
	if response.Status == StatusFailed {
		statusCode = http.StatusAccepted
	}
	c.JSON(statusCode, response)
}

func (h *Handler) GenerateInbound(c *gin.Context) {
	var req InboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request",
			"details": err.Error(),
		})
		return
	}

	fragments := h.carrier.splitInbound(&req)
	log.Info().
		Str("contact", req.ContactNumber).
		Int("fragments", len(fragments)).
		Bool("shuffled", req.Shuffle).
		Msg("fabricated inbound reply")

	if h.webhookURL != "" {
		go h.deliverWebhooks(fragments)
	}

	c.JSON(http.StatusOK, gin.H{"fragments": fragments})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"carrier_id":    h.carrier.carrierID,
		"timestamp":     time.Now(),
		"delivery_rate": h.carrier.deliveryRate,
	})
}

func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		DeliveryRate *float64 `json:"delivery_rate"`
	}
	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request",
			"details": err.Error(),
		})
		return
	}

	if config.DeliveryRate != nil {
		if *config.DeliveryRate >= 0 && *config.DeliveryRate <= 1.0 {
			h.carrier.deliveryRate = *config.DeliveryRate
			log.Info().Float64("rate", *config.DeliveryRate).Msg("updated delivery rate")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "configuration updated",
		"delivery_rate": h.carrier.deliveryRate,
	})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request processed")
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/messages/send", handler.SendMessage)
		v1.POST("/inbound/generate", handler.GenerateInbound)
		v1.GET("/health", handler.HealthCheck)
		v1.PUT("/config", handler.UpdateConfig)
	}

	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8081")
	deliveryRate := getEnvFloat("DELIVERY_RATE", 1)
	minDelay := getEnvDuration("MIN_DELAY", 50*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 500*time.Millisecond)
	// e.g. http://localhost:8080/api/v1/inbound/direct; empty keeps the
	// fragments response-only.
	webhookURL := getEnv("WEBHOOK_URL", "")

	log.Info().
		Str("port", port).
		Float64("delivery_rate", deliveryRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Str("webhook_url", webhookURL).
		Msg("starting mock carrier")

	carrier := NewMockCarrier(deliveryRate, minDelay, maxDelay)
	handler := NewHandler(carrier, webhookURL)
	router := SetupRouter(handler)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
