// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pdiddy/novel-engine/internal/httputil"
	"github.com/pdiddy/novel-engine/pkg/types"
)

func TestMain(m *testing.M) {
	httputil.RetryBaseDelay = time.Millisecond
	os.Exit(m.Run())
}

func chatServer(t *testing.T, handler func(req map[string]any) (int, string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		status, content := handler(req)
		w.WriteHeader(status)
		if status == http.StatusOK {
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"content": content}},
				},
			})
		}
	}))
}

func testClient(url string) *Client {
	return NewClient(ProviderConfig{
		Name:        "test",
		BaseURL:     url,
		APIKey:      "sk-test",
		Model:       "test-model",
		Temperature: 0.7,
		MaxTokens:   1024,
	})
}

func TestChatReturnsContent(t *testing.T) {
	ts := chatServer(t, func(req map[string]any) (int, string) {
		if req["model"] != "test-model" {
			t.Errorf("model = %v, want test-model", req["model"])
		}
		return http.StatusOK, "  The chapter text.  "
	})
	defer ts.Close()

	got, err := testClient(ts.URL).Chat(context.Background(), []Message{
		{Role: "system", Content: "You are a writer."},
		{Role: "user", Content: "Write."},
	}, ChatOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "The chapter text." {
		t.Errorf("content = %q", got)
	}
}

func TestChatJSONMode(t *testing.T) {
	ts := chatServer(t, func(req map[string]any) (int, string) {
		rf, ok := req["response_format"].(map[string]any)
		if !ok || rf["type"] != "json_object" {
			t.Errorf("response_format = %v, want json_object", req["response_format"])
		}
		return http.StatusOK, `{"issues": []}`
	})
	defer ts.Close()

	_, err := testClient(ts.URL).Chat(context.Background(), []Message{{Role: "user", Content: "review"}}, ChatOptions{JSONMode: true})
	if err != nil {
		t.Fatal(err)
	}
}

func TestChatSendsUserAgent(t *testing.T) {
	var gotAgent string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "ok"}},
			},
		})
	}))
	defer ts.Close()

	cfg := ProviderConfig{
		Name: "test", BaseURL: ts.URL, APIKey: "k", Model: "m",
		HTTPConfig: types.HTTPConfig{UserAgent: "novel-engine/test"},
	}
	if _, err := NewClient(cfg).Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, ChatOptions{}); err != nil {
		t.Fatal(err)
	}
	if gotAgent != "novel-engine/test" {
		t.Errorf("User-Agent = %q, want novel-engine/test", gotAgent)
	}
}

func TestChatThinkingFallback(t *testing.T) {
	calls := 0
	ts := chatServer(t, func(req map[string]any) (int, string) {
		calls++
		if _, hasThinking := req["enable_thinking"]; hasThinking {
			return http.StatusBadRequest, ""
		}
		return http.StatusOK, "ok"
	})
	defer ts.Close()

	cfg := ProviderConfig{
		Name: "test", BaseURL: ts.URL, APIKey: "k",
		Model: "m", ThinkingMode: true, MaxTokens: 10,
	}
	got, err := NewClient(cfg).Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, ChatOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "ok" {
		t.Errorf("content = %q", got)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (thinking then bare)", calls)
	}
}

func TestChatRetriesRateLimit(t *testing.T) {
	calls := 0
	ts := chatServer(t, func(_ map[string]any) (int, string) {
		calls++
		if calls == 1 {
			return http.StatusTooManyRequests, ""
		}
		return http.StatusOK, "done"
	})
	defer ts.Close()

	got, err := testClient(ts.URL).Chat(context.Background(), []Message{{Role: "user", Content: "x"}}, ChatOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got != "done" || calls != 2 {
		t.Errorf("content = %q after %d calls", got, calls)
	}
}

func TestEmbeddingsOrdersByIndex(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Return the vectors out of order; the client must reorder.
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0.2}},
				{"index": 0, "embedding": []float32{0.1}},
			},
		})
	}))
	defer ts.Close()

	vectors, err := testClient(ts.URL).Embeddings(context.Background(), "embed-model", []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vectors) != 2 || vectors[0][0] != 0.1 || vectors[1][0] != 0.2 {
		t.Errorf("vectors = %v", vectors)
	}
}

func TestExtractJSON(t *testing.T) {
	type payload struct {
		Issues []string `json:"issues"`
	}

	tests := []struct {
		name    string
		text    string
		want    int
		wantErr bool
	}{
		{name: "bare json", text: `{"issues": ["a", "b"]}`, want: 2},
		{name: "fenced json", text: "Here you go:\n```json\n{\"issues\": [\"a\"]}\n```\nDone.", want: 1},
		{name: "embedded object", text: `The result is {"issues": []} as requested.`, want: 0},
		{name: "braces inside strings", text: `prefix {"issues": ["has } brace"]} suffix`, want: 1},
		{name: "no json", text: "no structured data here", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p payload
			err := ExtractJSON(tt.text, &p)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(p.Issues) != tt.want {
				t.Errorf("issues = %v, want %d entries", p.Issues, tt.want)
			}
		})
	}
}

func TestLoadProviders(t *testing.T) {
	dir := t.TempDir()
	configsDir := filepath.Join(dir, "configs")
	if err := os.MkdirAll(configsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	secretsDir := filepath.Join(dir, ".secrets")
	if err := os.MkdirAll(secretsDir, 0o755); err != nil {
		t.Fatal(err)
	}

	providersYAML := `providers:
  deepseek:
    base_url: https://api.deepseek.com
    api_key: inline-key
    models:
      writer: deepseek-chat
      critic: deepseek-chat
    temperature: 0.8
    max_tokens: 8192
  kimi:
    base_url: https://api.moonshot.cn/v1
    models:
      critic: moonshot-v1-32k
  glm:
    base_url: https://open.bigmodel.cn/api/paas/v4
    models:
      critic: glm-4
`
	if err := os.WriteFile(filepath.Join(configsDir, "providers.yaml"), []byte(providersYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	// kimi's key comes from .secrets/; glm has no key anywhere and is skipped.
	if err := os.WriteFile(filepath.Join(secretsDir, "kimi-api-key"), []byte("secret-key\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	configs, err := LoadProviders(dir)
	if err != nil {
		t.Fatal(err)
	}

	ds, ok := configs["deepseek"]
	if !ok {
		t.Fatal("deepseek missing")
	}
	if ds.APIKey != "inline-key" || ds.Model != "deepseek-chat" || ds.Temperature != 0.8 || ds.MaxTokens != 8192 {
		t.Errorf("deepseek config = %+v", ds)
	}

	kimi, ok := configs["kimi"]
	if !ok {
		t.Fatal("kimi missing")
	}
	if kimi.APIKey != "secret-key" {
		t.Errorf("kimi key = %q", kimi.APIKey)
	}
	// No writer model: critic model is the fallback.
	if kimi.Model != "moonshot-v1-32k" {
		t.Errorf("kimi model = %q", kimi.Model)
	}

	if _, ok := configs["glm"]; ok {
		t.Error("glm should be skipped without a key")
	}
}

func TestForRole(t *testing.T) {
	cfg := ProviderConfig{
		Model:  "writer-model",
		Models: map[string]string{"critic": "critic-model"},
	}
	if got := cfg.ForRole("critic").Model; got != "critic-model" {
		t.Errorf("critic model = %q", got)
	}
	if got := cfg.ForRole("writer").Model; got != "writer-model" {
		t.Errorf("writer model = %q", got)
	}
}
