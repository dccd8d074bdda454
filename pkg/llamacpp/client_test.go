package llamacpp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chatServer(t *testing.T, status int, content any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Bad request body: %v", err)
		}
		if status != http.StatusOK {
			http.Error(w, "boom", status)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{
				map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": content}},
			},
		})
	}))
}

func TestLocateFaces(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{"faces":[{"box":{"x":0.1,"y":0.1,"w":0.2,"h":0.2}},{"box":{"x":0.6,"y":0.1,"w":0.2,"h":0.2}}]}`)
	defer srv.Close()

	c, _ := NewClient(srv.URL + "/")
	analysis, err := c.LocateFaces(context.Background(), "m", "find faces", "aGVsbG8=")
	if err != nil {
		t.Fatalf("LocateFaces failed: %v", err)
	}
	if len(analysis.Faces) != 2 {
		t.Errorf("Expected 2 faces, got %d", len(analysis.Faces))
	}
}

func TestSimpleQueryContentParts(t *testing.T) {
	srv := chatServer(t, http.StatusOK, []any{map[string]any{"type": "text", "text": "two people"}})
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	text, err := c.SimpleQuery(context.Background(), "m", "describe", "")
	if err != nil {
		t.Fatalf("SimpleQuery failed: %v", err)
	}
	if text != "two people" {
		t.Errorf("Unexpected text %q", text)
	}
}

func TestServerError(t *testing.T) {
	srv := chatServer(t, http.StatusInternalServerError, nil)
	defer srv.Close()

	c, _ := NewClient(srv.URL)
	_, err := c.LocateFaces(context.Background(), "m", "find faces", "")
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("Expected status error, got %v", err)
	}
}

func TestUserMessage(t *testing.T) {
	msgs := userMessage("hi", "abc")
	parts, ok := msgs[0].Content.([]ContentPart)
	if !ok || len(parts) != 2 {
		t.Fatalf("Expected text and image parts, got %#v", msgs[0].Content)
	}
	if parts[1].ImageURL.URL != "data:image/jpeg;base64,abc" {
		t.Errorf("Unexpected image URL %s", parts[1].ImageURL.URL)
	}
}
