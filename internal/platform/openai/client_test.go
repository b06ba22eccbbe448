package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/chessmate/chessmate/internal/platform/logger"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func newTestClient(t *testing.T, roundTrip func(*http.Request) (*http.Response, error)) *client {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Sync() })
	return &client{
		log:        log.With("service", "OpenAIClient"),
		baseURL:    "http://openai.local",
		apiKey:     "test-key",
		model:      "gpt-5.2",
		embedModel: "text-embedding-3-small",
		httpClient: &http.Client{Transport: roundTripFunc(roundTrip)},
		maxRetries: 2,
		noTempSeen: map[string]time.Time{},
	}
}

func jsonResponse(t *testing.T, status int, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(raw)),
	}
}

func TestClientEmbedOrdersByIndex(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/v1/embeddings" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		var decoded embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&decoded); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(decoded.Input) != 2 {
			t.Fatalf("input length: want=2 got=%d", len(decoded.Input))
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"data": []map[string]any{
				{"embedding": []float64{0.2, 0.3}, "index": 1},
				{"embedding": []float64{0.9, 0.1}, "index": 0},
			},
		}), nil
	})

	vecs, err := c.Embed(context.Background(), []string{"e4 e5", "d4 d5"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("vectors length: want=2 got=%d", len(vecs))
	}
	if vecs[0][0] != float32(0.9) {
		t.Fatalf("vector 0 mismatch: got=%v", vecs[0])
	}
	if vecs[1][0] != float32(0.2) {
		t.Fatalf("vector 1 mismatch: got=%v", vecs[1])
	}
}

func TestClientEmbedBlankInputsBecomeSpace(t *testing.T) {
	var captured embeddingsRequest
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"data": []map[string]any{{"embedding": []float64{0.1}, "index": 0}},
		}), nil
	})

	if _, err := c.Embed(context.Background(), []string{"   "}); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if captured.Input[0] != " " {
		t.Fatalf("blank input not normalized: got=%q", captured.Input[0])
	}
}

func TestClientEmbedEmptyInputsShortCircuits(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected request for empty inputs")
		return nil, nil
	})
	vecs, err := c.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 0 {
		t.Fatalf("expected zero vectors, got=%d", len(vecs))
	}
}

func TestClientGenerateJSONParsesOutputText(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/v1/responses" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		var decoded responsesRequest
		if err := json.NewDecoder(r.Body).Decode(&decoded); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if decoded.Text.Format["name"] != "game_evaluation" {
			t.Fatalf("schema name not forwarded: got=%v", decoded.Text.Format["name"])
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"output": []map[string]any{
				{
					"type": "message",
					"role": "assistant",
					"content": []map[string]any{
						{"type": "output_text", "text": `{"score":0.8,"themes":["fork"],"explanation":"tactical shot"}`},
					},
				},
			},
		}), nil
	})

	obj, err := c.GenerateJSON(context.Background(), "evaluate", "position X", "game_evaluation", map[string]any{
		"type": "object",
	})
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if obj["score"] != 0.8 {
		t.Fatalf("score mismatch: got=%v", obj["score"])
	}
}

func TestClientGenerateJSONRefusal(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusOK, map[string]any{
			"refusal": "cannot evaluate this position",
		}), nil
	})

	_, err := c.GenerateJSON(context.Background(), "evaluate", "position X", "game_evaluation", map[string]any{"type": "object"})
	if err == nil {
		t.Fatalf("GenerateJSON: expected refusal error")
	}
}

func TestClientRetriesOnRetryableStatus(t *testing.T) {
	attempts := 0
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		attempts++
		if attempts == 1 {
			return jsonResponse(t, http.StatusTooManyRequests, map[string]any{"error": "rate limited"}), nil
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"data": []map[string]any{{"embedding": []float64{0.5}, "index": 0}},
		}), nil
	})

	if _, err := c.Embed(context.Background(), []string{"e4"}); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts: want=2 got=%d", attempts)
	}
}
