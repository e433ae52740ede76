package providers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveOllamaEmbedModel_Default(t *testing.T) {
	t.Setenv("PAPERQUERY_OLLAMA_EMBED_MODEL", "")
	got := resolveOllamaEmbedModel("")
	if got != "nomic-embed-text" {
		t.Fatalf("expected default nomic-embed-text, got %q", got)
	}
}

func TestMatchDimension(t *testing.T) {
	src := []float32{1, 2, 3}
	a := matchDimension(src, 2)
	if len(a) != 2 || a[0] != 1 || a[1] != 2 {
		t.Fatalf("truncate failed: %#v", a)
	}
	b := matchDimension(src, 5)
	if len(b) != 5 || b[0] != 1 || b[2] != 3 || b[3] != 0 || b[4] != 0 {
		t.Fatalf("pad failed: %#v", b)
	}
}

func TestOllamaGenerateStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"response":"Hello","done":false}` + "\n"))
		_, _ = w.Write([]byte(`{"response":" world","done":false}` + "\n"))
		_, _ = w.Write([]byte(`{"response":"","done":true}` + "\n"))
	}))
	defer srv.Close()
	t.Setenv("PAPERQUERY_OLLAMA_BASE_URL", srv.URL)

	p := NewOllamaProvider("")
	stream, _, err := p.GenerateStream(context.Background(), GenerateRequest{Model: "llama3", Prompt: "hi"})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer stream.Close()

	var got string
	for {
		tok, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		got += tok
	}
	if got != "Hello world" {
		t.Fatalf("unexpected streamed text %q", got)
	}
}
