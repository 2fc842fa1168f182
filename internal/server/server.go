package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/scriptforge/scriptforge/config"
	"github.com/scriptforge/scriptforge/internal/llm"
	"github.com/scriptforge/scriptforge/internal/rag/chunker"
	"github.com/scriptforge/scriptforge/internal/rag/contextbuild"
	"github.com/scriptforge/scriptforge/internal/rag/embedder"
	"github.com/scriptforge/scriptforge/internal/rag/generate"
	"github.com/scriptforge/scriptforge/internal/rag/rerank"
	"github.com/scriptforge/scriptforge/internal/rag/retriever"
	"github.com/scriptforge/scriptforge/internal/store"
)

// Run wires the full pipeline and serves the generation API.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()

	if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
		baseLogger.Printf("migrate: %v", err)
	}

	st, err := store.New(ctx, cfg.Storage.Postgres)
	if err != nil {
		return err
	}

	provider, err := llm.NewProvider(cfg.LLM, nil)
	if err != nil {
		return err
	}

	emb := embedder.New(provider, cfg.Embedding, nil)

	// Rebuild the per-channel keyword indexes from the stored corpus so the
	// lexical channel serves hits from the first request after a restart.
	keyword := retriever.NewKeywordIndex()
	if channels, err := st.ListChannels(ctx); err != nil {
		baseLogger.Printf("list channels for keyword warm-up: %v", err)
	} else {
		for _, ch := range channels {
			if err := keyword.Warm(ctx, st, ch); err != nil {
				baseLogger.Printf("keyword warm-up for channel %s: %v", ch, err)
			}
		}
	}

	rr := rerank.New(provider.Complete, cfg.LLM.Routing.Model("rerank"), nil)
	ret := retriever.New(st, keyword, emb, rr, provider.Complete,
		cfg.LLM.Routing.Model("expansion"), cfg.Retrieval, nil)

	var classifier *chunker.Classifier
	if cfg.Chunking.UseLLMClassification {
		classifier = chunker.NewClassifier(provider.Complete, cfg.LLM.Routing.Model("classify"))
	}
	chk := chunker.New(cfg.Chunking, classifier, nil)
	contexts := contextbuild.New(ret, st, st, nil)
	gen := generate.New(contexts, chk, emb, st, st, keyword, provider.Complete,
		cfg.LLM.Routing.Model("synthesis"), cfg.LLM.Routing.Model("replacement"),
		cfg.Generate, cfg.Quality, nil)

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed (%s:%s): %w", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
	}

	secret := cfg.Server.JWTSecret
	if secret == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}

	api := e.Group("/api")
	api.Use(AuthMiddleware([]byte(secret)))

	sh := &ScriptsHandler{
		Topics:    st,
		Generator: gen,
		Locker:    &RedisChannelLocker{Rdb: rdb},
	}
	sh.Register(api)

	if addr == "" {
		addr = cfg.Server.Address
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":10001"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
