package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"regexp"
	"strings"
)

type MockProvider struct {
	dim int
}

func NewMockProvider(dim int) *MockProvider {
	if dim <= 0 {
		dim = 384
	}
	return &MockProvider{dim: dim}
}

func (m *MockProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	_ = ctx
	dim := req.Dimension
	if dim <= 0 {
		dim = m.dim
	}
	vectors := make([][]float32, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		vectors = append(vectors, deterministicVector(input, dim))
	}
	return vectors, ProviderInfo{Name: "mock", Model: fmt.Sprintf("mock-embed-%d", dim), Key: "mock"}, nil
}

var sourceHeaderRe = regexp.MustCompile(`\[Source (\d+)\]`)

func (m *MockProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	_ = ctx
	text := "Mock response."
	if strings.Contains(strings.ToLower(req.Operation), "query") || strings.Contains(strings.ToLower(req.Operation), "ask") {
		sources := sourceHeaderRe.FindAllStringSubmatch(req.Prompt, -1)
		b := strings.Builder{}
		b.WriteString("Based on the provided excerpts, the answer is deterministic mock output")
		for i, s := range sources {
			if i >= 2 {
				break
			}
			b.WriteString(" (Source ")
			b.WriteString(s[1])
			b.WriteString(")")
		}
		b.WriteString(". Replace the mock provider with a real backend for semantic answers.")
		text = b.String()
	}
	return GenerateResponse{Text: text}, ProviderInfo{Name: "mock", Model: "mock-llm-v1", Key: "mock"}, nil
}

// GenerateStream replays the sync answer word by word so streaming
// consumers can be exercised without a real backend.
func (m *MockProvider) GenerateStream(ctx context.Context, req GenerateRequest) (TokenStream, ProviderInfo, error) {
	resp, info, err := m.Generate(ctx, req)
	if err != nil {
		return nil, info, err
	}
	words := strings.SplitAfter(resp.Text, " ")
	return &sliceTokenStream{tokens: words}, info, nil
}

type sliceTokenStream struct {
	tokens []string
	pos    int
}

func (s *sliceTokenStream) Recv() (string, error) {
	if s.pos >= len(s.tokens) {
		return "", io.EOF
	}
	tok := s.tokens[s.pos]
	s.pos++
	return tok, nil
}

func (s *sliceTokenStream) Close() error {
	return nil
}

func deterministicVector(input string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := []byte(input)
	if len(seed) == 0 {
		seed = []byte("empty")
	}
	for i := 0; i < dim; i++ {
		h := sha256.Sum256(append(seed, byte(i%251)))
		u := binary.BigEndian.Uint32(h[:4])
		v := float32(u%2000)/1000.0 - 1.0
		vec[i] = v
	}
	return normalize(vec)
}

func normalize(v []float32) []float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return v
	}
	inv := float32(1.0 / (float64(sum) + 1e-9))
	for i := range v {
		v[i] *= inv
	}
	return v
}
