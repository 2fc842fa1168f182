package openai_provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestComplete(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" || len(req.Messages) != 1 || req.Messages[0].Content != "hello" {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "world"}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL, 5*time.Second, nil)
	got, err := c.Complete(context.Background(), "hello", "test-model", 100, 0.7)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "world" {
		t.Fatalf("Complete = %q", got)
	}
}

func TestCompleteAPIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL, 5*time.Second, nil)
	if _, err := c.Complete(context.Background(), "hello", "test-model", 100, 0); err == nil {
		t.Fatalf("expected error on non-200 status")
	}
}

func TestCompleteNoChoices(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL, 5*time.Second, nil)
	if _, err := c.Complete(context.Background(), "hello", "test-model", 100, 0); err == nil {
		t.Fatalf("expected error on empty choices")
	}
}

func TestEmbedOrdersByIndex(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		// Respond out of order; the client must place by index.
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"object": "embedding", "embedding": []float32{2, 2}, "index": 1},
				{"object": "embedding", "embedding": []float32{1, 1}, "index": 0},
			},
		})
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL, 5*time.Second, nil)
	vecs, err := c.Embed(context.Background(), "embed-model", []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Fatalf("embeddings not ordered by index: %v", vecs)
	}
}

func TestEmbedCountMismatch(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"object": "embedding", "embedding": []float32{1}, "index": 0},
			},
		})
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL, 5*time.Second, nil)
	if _, err := c.Embed(context.Background(), "embed-model", []string{"a", "b"}); err == nil {
		t.Fatalf("expected error on count mismatch")
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	t.Parallel()
	c := NewClient("test-key", "http://unused", time.Second, nil)
	vecs, err := c.Embed(context.Background(), "embed-model", nil)
	if err != nil || vecs != nil {
		t.Fatalf("empty input: vecs=%v err=%v", vecs, err)
	}
}
