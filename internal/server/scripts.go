package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/scriptforge/scriptforge/internal/rag/core"
)

// ScriptGenerator is the generation pipeline surface the handler needs.
type ScriptGenerator interface {
	Generate(ctx context.Context, topic core.Topic, overrides core.GenerationConfig) (core.GeneratedScript, error)
}

// ChannelLocker serializes generations per channel.
type ChannelLocker interface {
	Acquire(ctx context.Context, channelID string) (bool, func(), error)
}

// ScriptsHandler exposes the generation endpoint.
type ScriptsHandler struct {
	Topics    core.TopicStore
	Generator ScriptGenerator
	Locker    ChannelLocker
}

func (h *ScriptsHandler) Register(g *echo.Group) {
	g.POST("/channels/:channel_id/scripts", h.generate)
}

// GenerateScriptRequest is the generation request body. Config fields are
// optional overrides.
type GenerateScriptRequest struct {
	TopicID        string   `json:"topic_id"`
	Format         string   `json:"format,omitempty"`
	TargetDuration int      `json:"target_duration,omitempty"`
	Style          string   `json:"style,omitempty"`
	ForbiddenWords []string `json:"forbidden_words,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
}

func (h *ScriptsHandler) generate(c echo.Context) error {
	channelID := c.Param("channel_id")
	if channelID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel_id required")
	}

	var req GenerateScriptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	topicID, err := uuid.Parse(req.TopicID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid topic_id")
	}

	ctx := c.Request().Context()

	ok, release, err := h.Locker.Acquire(ctx, channelID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		generationLocked.Inc()
		return echo.NewHTTPError(http.StatusConflict, "generation already running for channel")
	}
	defer release()

	topic, err := h.Topics.GetTopic(ctx, topicID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "topic not found")
	}
	if topic.ChannelID != channelID {
		return echo.NewHTTPError(http.StatusNotFound, "topic does not belong to channel")
	}

	start := time.Now()
	script, err := h.Generator.Generate(ctx, topic, core.GenerationConfig{
		Format:         req.Format,
		TargetDuration: req.TargetDuration,
		Style:          req.Style,
		ForbiddenWords: req.ForbiddenWords,
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
	})
	generationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		generationAttempts.WithLabelValues("error").Inc()
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if script.Passed {
		generationAttempts.WithLabelValues("passed").Inc()
	} else {
		generationAttempts.WithLabelValues("failed_gate").Inc()
	}

	// The script goes back whether or not the gate passed; the caller sees
	// Passed and decides.
	return c.JSON(http.StatusCreated, script)
}

// RedisChannelLocker serializes generation per channel with a SetNX lock.
type RedisChannelLocker struct {
	Rdb *redis.Client
	TTL time.Duration
}

func (l *RedisChannelLocker) Acquire(ctx context.Context, channelID string) (bool, func(), error) {
	ttl := l.TTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	lockKey := "generate:lock:" + channelID
	ok, err := l.Rdb.SetNX(ctx, lockKey, "1", ttl).Result()
	if err != nil {
		return false, nil, err
	}
	if !ok {
		return false, nil, nil
	}
	release := func() { l.Rdb.Del(context.Background(), lockKey) }
	return true, release, nil
}
