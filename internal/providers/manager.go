package providers

import (
	"context"
	"fmt"
	"strings"

	"paperquery/internal/config"
)

type NamedLLMProvider struct {
	Ref      ProviderRef
	Provider LLMProvider
}

type NamedEmbedProvider struct {
	Ref      ProviderRef
	Provider EmbeddingProvider
}

type Manager struct {
	llmProviders   []NamedLLMProvider
	embedProviders []NamedEmbedProvider
	embedDim       int
}

func NewManager(cfg config.Config) (*Manager, error) {
	llmRefs := ParseProviderList(cfg.LLMProviders)
	embedRefs := ParseProviderList(cfg.EmbedProviders)

	m := &Manager{embedDim: cfg.EmbedDim}
	for _, ref := range llmRefs {
		p, err := buildProvider(ref, cfg.EmbedDim)
		if err != nil {
			return nil, err
		}
		llm, ok := p.(LLMProvider)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support llm", ref.Raw)
		}
		m.llmProviders = append(m.llmProviders, NamedLLMProvider{Ref: ref, Provider: llm})
	}
	for _, ref := range embedRefs {
		p, err := buildProvider(ref, cfg.EmbedDim)
		if err != nil {
			return nil, err
		}
		embed, ok := p.(EmbeddingProvider)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support embeddings", ref.Raw)
		}
		m.embedProviders = append(m.embedProviders, NamedEmbedProvider{Ref: ref, Provider: embed})
	}
	if len(m.embedProviders) == 0 {
		m.embedProviders = []NamedEmbedProvider{{Ref: ProviderRef{Raw: "mock", Name: "mock"}, Provider: NewMockProvider(cfg.EmbedDim)}}
	}
	if len(m.llmProviders) == 0 {
		m.llmProviders = []NamedLLMProvider{{Ref: ProviderRef{Raw: "mock", Name: "mock"}, Provider: NewMockProvider(cfg.EmbedDim)}}
	}
	return m, nil
}

func (m *Manager) LLMCount() int {
	return len(m.llmProviders)
}

func (m *Manager) EmbedCount() int {
	return len(m.embedProviders)
}

func (m *Manager) LLMProviderByIndex(i int) (LLMProvider, ProviderRef) {
	if i < 0 || i >= len(m.llmProviders) {
		i = 0
	}
	return m.llmProviders[i].Provider, m.llmProviders[i].Ref
}

func (m *Manager) EmbedProviderByIndex(i int) (EmbeddingProvider, ProviderRef) {
	if i < 0 || i >= len(m.embedProviders) {
		i = 0
	}
	return m.embedProviders[i].Provider, m.embedProviders[i].Ref
}

// PreferredLLMOrder lists provider indexes with real backends ahead of
// the mock fallback.
func (m *Manager) PreferredLLMOrder() []int {
	return preferredOrder(len(m.llmProviders), func(i int) string { return strings.ToLower(m.llmProviders[i].Ref.Name) })
}

func (m *Manager) PreferredEmbedOrder() []int {
	return preferredOrder(len(m.embedProviders), func(i int) string { return strings.ToLower(m.embedProviders[i].Ref.Name) })
}

func preferredOrder(n int, nameAt func(i int) string) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if nameAt(i) != "mock" {
			out = append(out, i)
		}
	}
	for i := 0; i < n; i++ {
		if nameAt(i) == "mock" {
			out = append(out, i)
		}
	}
	return out
}

// Embed runs the request against configured embedding providers in
// preferred order, falling through on quota, rate and transient
// failures.
func (m *Manager) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	if req.Dimension <= 0 {
		req.Dimension = m.embedDim
	}
	var lastErr error
	for _, i := range m.PreferredEmbedOrder() {
		p, ref := m.EmbedProviderByIndex(i)
		vecs, info, err := p.Embed(ctx, req)
		if err == nil {
			return vecs, info, nil
		}
		lastErr = fmt.Errorf("embed via %s: %w", ref.Raw, err)
		if ClassifyError(err) == ErrorPermanent {
			break
		}
	}
	return nil, ProviderInfo{}, lastErr
}

// Generate runs the request against configured llm providers in
// preferred order with the same failover policy as Embed.
func (m *Manager) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	var lastErr error
	for _, i := range m.PreferredLLMOrder() {
		p, ref := m.LLMProviderByIndex(i)
		resp, info, err := p.Generate(ctx, req)
		if err == nil {
			return resp, info, nil
		}
		lastErr = fmt.Errorf("generate via %s: %w", ref.Raw, err)
		if ClassifyError(err) == ErrorPermanent {
			break
		}
	}
	return GenerateResponse{}, ProviderInfo{}, lastErr
}

// GenerateStream opens a token stream from the first provider that
// accepts the request. Providers without streaming support are
// skipped; if none stream, the sync Generate result is replayed as a
// single-token stream.
func (m *Manager) GenerateStream(ctx context.Context, req GenerateRequest) (TokenStream, ProviderInfo, error) {
	var lastErr error
	sawStreaming := false
	for _, i := range m.PreferredLLMOrder() {
		p, ref := m.LLMProviderByIndex(i)
		sp, ok := p.(StreamingLLMProvider)
		if !ok {
			continue
		}
		sawStreaming = true
		stream, info, err := sp.GenerateStream(ctx, req)
		if err == nil {
			return stream, info, nil
		}
		lastErr = fmt.Errorf("stream via %s: %w", ref.Raw, err)
		if ClassifyError(err) == ErrorPermanent {
			break
		}
	}
	if !sawStreaming {
		resp, info, err := m.Generate(ctx, req)
		if err != nil {
			return nil, ProviderInfo{}, err
		}
		return &sliceTokenStream{tokens: []string{resp.Text}}, info, nil
	}
	return nil, ProviderInfo{}, lastErr
}

func buildProvider(ref ProviderRef, dim int) (any, error) {
	switch strings.ToLower(ref.Name) {
	case "mock":
		return NewMockProvider(dim), nil
	case "openai":
		return NewOpenAIProvider(ref.KeyAlias), nil
	case "ollama":
		return NewOllamaProvider(ref.KeyAlias), nil
	case "groq":
		return NewGroqProvider(ref.KeyAlias), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", ref.Name)
	}
}
