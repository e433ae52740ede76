package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// OllamaProvider supports local, free inference via Ollama. Embeddings
// default to nomic-embed-text; generation uses the model named in the
// request.
type OllamaProvider struct {
	alias      string
	baseURL    string
	embedModel string
	client     *http.Client
}

func NewOllamaProvider(alias string) *OllamaProvider {
	baseURL := strings.TrimSpace(os.Getenv("PAPERQUERY_OLLAMA_BASE_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		alias:      alias,
		baseURL:    strings.TrimRight(baseURL, "/"),
		embedModel: resolveOllamaEmbedModel(alias),
		client:     &http.Client{Timeout: 300 * time.Second},
	}
}

func (o *OllamaProvider) info(model string) ProviderInfo {
	return ProviderInfo{Name: "ollama", Model: model, Key: o.alias}
}

func (o *OllamaProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	if len(req.Inputs) == 0 {
		return nil, o.info(o.embedModel), fmt.Errorf("no embedding inputs")
	}
	out := make([][]float32, 0, len(req.Inputs))
	for _, text := range req.Inputs {
		payload, _ := json.Marshal(map[string]any{
			"model":  o.embedModel,
			"prompt": text,
		})
		httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(payload))
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := o.client.Do(httpReq)
		if err != nil {
			return nil, o.info(o.embedModel), fmt.Errorf("ollama embedding request failed: %w", err)
		}
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, o.info(o.embedModel), fmt.Errorf("ollama embedding error %d: %s", resp.StatusCode, string(body))
		}
		var parsed struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, o.info(o.embedModel), fmt.Errorf("decode ollama embedding response: %w", err)
		}
		if len(parsed.Embedding) == 0 {
			return nil, o.info(o.embedModel), fmt.Errorf("ollama returned empty embedding")
		}
		out = append(out, matchDimension(parsed.Embedding, req.Dimension))
	}
	return out, o.info(o.embedModel), nil
}

func (o *OllamaProvider) generatePayload(req GenerateRequest, stream bool) []byte {
	options := map[string]any{
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	payload, _ := json.Marshal(map[string]any{
		"model":   req.Model,
		"prompt":  req.Prompt,
		"stream":  stream,
		"options": options,
	})
	return payload
}

func (o *OllamaProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(o.generatePayload(req, false)))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return GenerateResponse{}, o.info(req.Model), fmt.Errorf("ollama generate request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return GenerateResponse{}, o.info(req.Model), fmt.Errorf("ollama generate error %d: %s", resp.StatusCode, string(body))
	}
	var parsed struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return GenerateResponse{}, o.info(req.Model), fmt.Errorf("decode ollama generate response: %w", err)
	}
	return GenerateResponse{Text: parsed.Response}, o.info(req.Model), nil
}

// GenerateStream issues a streaming generate call. Ollama streams
// newline delimited JSON objects, one token fragment per line, with
// done=true on the final line.
func (o *OllamaProvider) GenerateStream(ctx context.Context, req GenerateRequest) (TokenStream, ProviderInfo, error) {
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(o.generatePayload(req, true)))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, o.info(req.Model), fmt.Errorf("ollama stream request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, o.info(req.Model), fmt.Errorf("ollama stream error %d: %s", resp.StatusCode, string(body))
	}
	return &ollamaTokenStream{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, o.info(req.Model), nil
}

type ollamaTokenStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func (s *ollamaTokenStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var parsed struct {
			Response string `json:"response"`
			Done     bool   `json:"done"`
			Error    string `json:"error"`
		}
		if err := json.Unmarshal(line, &parsed); err != nil {
			return "", fmt.Errorf("decode ollama stream line: %w", err)
		}
		if parsed.Error != "" {
			return "", fmt.Errorf("ollama stream error: %s", parsed.Error)
		}
		if parsed.Done {
			s.done = true
			if parsed.Response != "" {
				return parsed.Response, nil
			}
			return "", io.EOF
		}
		return parsed.Response, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("read ollama stream: %w", err)
	}
	s.done = true
	return "", io.EOF
}

func (s *ollamaTokenStream) Close() error {
	return s.body.Close()
}

func resolveOllamaEmbedModel(alias string) string {
	alias = strings.TrimSpace(alias)
	if alias != "" {
		switch strings.ToLower(alias) {
		case "nomic":
			return "nomic-embed-text"
		case "bge":
			return "bge-small-en-v1.5"
		}
		// Allow a direct model in the provider list, e.g. ollama:all-minilm
		if strings.Contains(alias, "-") || strings.Contains(alias, "/") || strings.Contains(alias, ".") {
			return alias
		}
	}
	if v := strings.TrimSpace(os.Getenv("PAPERQUERY_OLLAMA_EMBED_MODEL")); v != "" {
		return v
	}
	return "nomic-embed-text"
}

func matchDimension(v []float32, target int) []float32 {
	if target <= 0 || len(v) == target {
		return v
	}
	if len(v) > target {
		return v[:target]
	}
	out := make([]float32, target)
	copy(out, v)
	return out
}
