package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// OpenAIProvider wraps the OpenAI chat and embedding APIs. With a
// custom base URL it also serves OpenAI-compatible backends; Groq is
// wired that way through NewGroqProvider.
type OpenAIProvider struct {
	name       string
	keyName    string
	embedModel string
	client     *openai.Client
}

func NewOpenAIProvider(keyName string) *OpenAIProvider {
	apiKey := resolveProviderKey("OPENAI", keyName)
	return &OpenAIProvider{
		name:       "openai",
		keyName:    keyName,
		embedModel: string(openai.SmallEmbedding3),
		client:     openai.NewClient(apiKey),
	}
}

func NewGroqProvider(keyName string) *OpenAIProvider {
	apiKey := resolveProviderKey("GROQ", keyName)
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = groqBaseURL
	return &OpenAIProvider{
		name:    "groq",
		keyName: keyName,
		client:  openai.NewClientWithConfig(cfg),
	}
}

func (o *OpenAIProvider) info(model string) ProviderInfo {
	return ProviderInfo{Name: o.name, Model: model, Key: o.keyName}
}

func (o *OpenAIProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	if o.embedModel == "" {
		return nil, o.info(""), fmt.Errorf("%s does not support embeddings", o.name)
	}
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:      req.Inputs,
		Model:      openai.EmbeddingModel(o.embedModel),
		Dimensions: req.Dimension,
	})
	if err != nil {
		return nil, o.info(o.embedModel), fmt.Errorf("%s embedding request failed: %w", o.name, err)
	}
	out := make([][]float32, 0, len(resp.Data))
	for _, d := range resp.Data {
		out = append(out, d.Embedding)
	}
	return out, o.info(o.embedModel), nil
}

func (o *OpenAIProvider) chatRequest(req GenerateRequest, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (o *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.chatRequest(req, false))
	if err != nil {
		return GenerateResponse{}, o.info(req.Model), fmt.Errorf("%s chat request failed: %w", o.name, err)
	}
	if len(resp.Choices) == 0 {
		return GenerateResponse{}, o.info(req.Model), fmt.Errorf("%s returned no choices", o.name)
	}
	return GenerateResponse{Text: resp.Choices[0].Message.Content}, o.info(req.Model), nil
}

func (o *OpenAIProvider) GenerateStream(ctx context.Context, req GenerateRequest) (TokenStream, ProviderInfo, error) {
	stream, err := o.client.CreateChatCompletionStream(ctx, o.chatRequest(req, true))
	if err != nil {
		return nil, o.info(req.Model), fmt.Errorf("%s stream request failed: %w", o.name, err)
	}
	return &openaiTokenStream{inner: stream}, o.info(req.Model), nil
}

type openaiTokenStream struct {
	inner *openai.ChatCompletionStream
}

func (s *openaiTokenStream) Recv() (string, error) {
	for {
		chunk, err := s.inner.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("read chat stream: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
}

func (s *openaiTokenStream) Close() error {
	return s.inner.Close()
}

func resolveProviderKey(provider, alias string) string {
	if alias != "" {
		key := "PAPERQUERY_" + provider + "_API_KEY_" + sanitizeEnvToken(alias)
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(os.Getenv(provider + "_API_KEY"))
}

func sanitizeEnvToken(s string) string {
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, "/", "_")
	return s
}
