package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/scriptforge/scriptforge/internal/rag/core"
)

type stubGenerator struct {
	script core.GeneratedScript
	err    error
	calls  int
}

func (s *stubGenerator) Generate(ctx context.Context, topic core.Topic, overrides core.GenerationConfig) (core.GeneratedScript, error) {
	s.calls++
	s.script.ChannelID = topic.ChannelID
	s.script.TopicID = topic.ID
	return s.script, s.err
}

type stubLocker struct {
	locked   bool
	err      error
	released int
}

func (s *stubLocker) Acquire(ctx context.Context, channelID string) (bool, func(), error) {
	if s.err != nil {
		return false, nil, s.err
	}
	if s.locked {
		return false, nil, nil
	}
	return true, func() { s.released++ }, nil
}

type stubTopics struct {
	topic core.Topic
	err   error
}

func (s *stubTopics) GetTopic(ctx context.Context, id uuid.UUID) (core.Topic, error) {
	if s.err != nil {
		return core.Topic{}, s.err
	}
	t := s.topic
	t.ID = id
	return t, nil
}

func newHandler(topics *stubTopics, gen *stubGenerator, locker *stubLocker) (*echo.Echo, *ScriptsHandler) {
	e := echo.New()
	h := &ScriptsHandler{Topics: topics, Generator: gen, Locker: locker}
	h.Register(e.Group(""))
	return e, h
}

func postScript(e *echo.Echo, channelID string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/channels/"+channelID+"/scripts", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestGenerateScriptSuccess(t *testing.T) {
	topicID := uuid.New()
	gen := &stubGenerator{script: core.GeneratedScript{
		ID:     uuid.New(),
		Text:   "script text",
		Passed: true,
		Status: core.StatusGenerated,
	}}
	locker := &stubLocker{}
	e, _ := newHandler(&stubTopics{topic: core.Topic{ChannelID: "chan-1"}}, gen, locker)

	rec := postScript(e, "chan-1", fmt.Sprintf(`{"topic_id":%q,"forbidden_words":["revolutionary"]}`, topicID))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got core.GeneratedScript
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !got.Passed || got.TopicID != topicID {
		t.Fatalf("unexpected body: passed=%v topic=%s", got.Passed, got.TopicID)
	}
	if locker.released != 1 {
		t.Fatalf("lock released %d times, want 1", locker.released)
	}
}

func TestGenerateScriptGateFailureStillCreated(t *testing.T) {
	gen := &stubGenerator{script: core.GeneratedScript{ID: uuid.New(), Passed: false, Version: 3}}
	e, _ := newHandler(&stubTopics{topic: core.Topic{ChannelID: "chan-1"}}, gen, &stubLocker{})

	rec := postScript(e, "chan-1", fmt.Sprintf(`{"topic_id":%q}`, uuid.New()))
	if rec.Code != http.StatusCreated {
		t.Fatalf("gate failure is still a created script: status = %d", rec.Code)
	}
	var got core.GeneratedScript
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Passed || got.Version != 3 {
		t.Fatalf("unexpected body: passed=%v version=%d", got.Passed, got.Version)
	}
}

func TestGenerateScriptChannelLocked(t *testing.T) {
	gen := &stubGenerator{}
	e, _ := newHandler(&stubTopics{topic: core.Topic{ChannelID: "chan-1"}}, gen, &stubLocker{locked: true})

	rec := postScript(e, "chan-1", fmt.Sprintf(`{"topic_id":%q}`, uuid.New()))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if gen.calls != 0 {
		t.Fatalf("generator must not run while locked")
	}
}

func TestGenerateScriptTopicChannelMismatch(t *testing.T) {
	e, _ := newHandler(&stubTopics{topic: core.Topic{ChannelID: "other-channel"}}, &stubGenerator{}, &stubLocker{})

	rec := postScript(e, "chan-1", fmt.Sprintf(`{"topic_id":%q}`, uuid.New()))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGenerateScriptBadTopicID(t *testing.T) {
	e, _ := newHandler(&stubTopics{}, &stubGenerator{}, &stubLocker{})

	rec := postScript(e, "chan-1", `{"topic_id":"not-a-uuid"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGenerateScriptGeneratorError(t *testing.T) {
	gen := &stubGenerator{err: errors.New("synthesis down")}
	locker := &stubLocker{}
	e, _ := newHandler(&stubTopics{topic: core.Topic{ChannelID: "chan-1"}}, gen, locker)

	rec := postScript(e, "chan-1", fmt.Sprintf(`{"topic_id":%q}`, uuid.New()))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if locker.released != 1 {
		t.Fatalf("lock must release on generator error")
	}
}

func TestAuthMiddleware(t *testing.T) {
	secret := []byte("test-secret")
	e := echo.New()
	g := e.Group("/api")
	g.Use(AuthMiddleware(secret))
	g.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status = %d", rec.Code)
	}

	tok, err := SignJWT("pipeline", secret, time.Minute)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	expired, err := SignJWT("pipeline", secret, -time.Minute)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired token: status = %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsUnsignedAlgorithm(t *testing.T) {
	secret := []byte("test-secret")
	e := echo.New()
	g := e.Group("/api")
	g.Use(AuthMiddleware(secret))
	g.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })

	claims := jwt.MapClaims{"sub": "pipeline", "exp": time.Now().Add(time.Minute).Unix()}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none-algorithm token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("alg=none token must be rejected: status = %d", rec.Code)
	}
}
