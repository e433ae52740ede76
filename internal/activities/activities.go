package activities

import (
	"bufio"
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"paperquery/internal/config"
	"paperquery/internal/providers"
	"paperquery/internal/storage"
	"paperquery/internal/util"
	"paperquery/internal/vector"

	"github.com/ledongthuc/pdf"
)

type Activities struct {
	cfg       config.Config
	paperRepo *storage.PaperRepo
	chunkRepo *storage.ChunkRepo
	providers *providers.Manager
}

func New(cfg config.Config, db *storage.DB) (*Activities, error) {
	pm, err := providers.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	return &Activities{
		cfg:       cfg,
		paperRepo: storage.NewPaperRepo(db),
		chunkRepo: storage.NewChunkRepo(db),
		providers: pm,
	}, nil
}

// ExtractPagesActivity pulls plain text out of the PDF page by page so
// downstream chunks keep their page provenance.
func (a *Activities) ExtractPagesActivity(ctx context.Context, in ExtractPagesInput) (ExtractPagesOutput, error) {
	_ = ctx
	f, r, err := pdf.Open(in.PaperPath)
	if err != nil {
		return ExtractPagesOutput{}, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	total := r.NumPage()
	pages := make([]string, 0, total)
	nonEmpty := 0
	for i := 1; i <= total; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not sink the paper.
			pages = append(pages, "")
			continue
		}
		text = util.SanitizeText(strings.TrimSpace(text))
		if text != "" {
			nonEmpty++
		}
		pages = append(pages, text)
	}
	if nonEmpty == 0 {
		return ExtractPagesOutput{}, util.ErrNoExtractableText
	}
	return ExtractPagesOutput{Pages: pages}, nil
}

var yearRe = regexp.MustCompile(`\b(19[5-9]\d|20[0-4]\d)\b`)

func (a *Activities) ExtractMetadataActivity(ctx context.Context, in ExtractMetadataInput) (ExtractMetadataOutput, error) {
	_ = ctx
	head := ""
	for _, p := range in.Pages {
		if strings.TrimSpace(p) != "" {
			head = p
			break
		}
	}
	title, authors := heuristicTitleAndAuthors(head)
	if title == "" {
		title = strings.TrimSuffix(in.Filename, filepath.Ext(in.Filename))
	}
	out := ExtractMetadataOutput{Title: title, Authors: authors}
	if m := yearRe.FindString(head); m != "" {
		if y, err := strconv.Atoi(m); err == nil {
			out.Year = &y
		}
	}
	return out, nil
}

// ChunkPagesActivity splits page texts into section-aware, sentence
// aligned chunks with stable content-derived ids.
func (a *Activities) ChunkPagesActivity(ctx context.Context, in ChunkPagesInput) (ChunkPagesOutput, error) {
	_ = ctx
	if in.MaxChars <= 0 {
		in.MaxChars = a.cfg.ChunkMaxChars
	}
	if in.OverlapChars < 0 || in.OverlapChars >= in.MaxChars {
		in.OverlapChars = a.cfg.ChunkOverlapChars
	}

	sentences := util.SplitSentences(in.Pages)
	pieces := util.ChunkSentences(sentences, in.MaxChars, in.OverlapChars)

	chunks := make([]ChunkItem, 0, len(pieces))
	for _, piece := range pieces {
		text := util.SanitizeText(piece.Text)
		if text == "" {
			continue
		}
		chunkHash := util.SHA256Hex([]byte(text))
		chunkID := util.SHA256Hex([]byte(fmt.Sprintf("%d:%d:%s:%s", in.PaperID, piece.ChunkIndex, chunkHash, in.Version)))
		chunks = append(chunks, ChunkItem{
			ChunkID:    chunkID,
			PaperID:    in.PaperID,
			ChunkIndex: piece.ChunkIndex,
			Text:       text,
			Section:    string(piece.Section),
			PageStart:  piece.PageStart,
			PageEnd:    piece.PageEnd,
		})
	}
	return ChunkPagesOutput{Chunks: chunks}, nil
}

func (a *Activities) EmbedChunksActivity(ctx context.Context, in EmbedChunksInput) (EmbedChunksOutput, error) {
	inputs := make([]string, 0, len(in.Input))
	for _, c := range in.Input {
		inputs = append(inputs, c.Text)
	}
	provider, _ := a.providers.EmbedProviderByIndex(in.ProviderIndex)
	vectors, info, err := provider.Embed(ctx, providers.EmbedRequest{
		Operation: in.Operation,
		Inputs:    inputs,
		Dimension: a.cfg.EmbedDim,
	})
	if err != nil {
		return EmbedChunksOutput{}, err
	}
	return EmbedChunksOutput{
		Vectors:      vectors,
		ProviderName: info.Name,
		Model:        info.Model,
	}, nil
}

func (a *Activities) UpsertChunksActivity(ctx context.Context, in UpsertChunksInput) error {
	records := make([]storage.ChunkRecord, 0, len(in.Chunks))
	for i, c := range in.Chunks {
		var embedding *string
		if i < len(in.Vectors) && len(in.Vectors[i]) > 0 {
			lit := vector.ToLiteral(in.Vectors[i])
			embedding = &lit
		}
		records = append(records, storage.ChunkRecord{
			ChunkID:          c.ChunkID,
			PaperID:          c.PaperID,
			ChunkIndex:       c.ChunkIndex,
			Text:             c.Text,
			Section:          c.Section,
			PageStart:        c.PageStart,
			PageEnd:          c.PageEnd,
			EmbeddingVersion: in.EmbeddingVersion,
			EmbeddingVector:  embedding,
		})
	}
	return a.chunkRepo.UpsertChunks(ctx, records)
}

func (a *Activities) UpdatePaperStatusActivity(ctx context.Context, in UpdatePaperStatusInput) error {
	return a.paperRepo.UpdatePaperStatus(ctx, in.PaperID, in.Status, in.FailReason)
}

func (a *Activities) UpdatePaperMetadataActivity(ctx context.Context, in UpdatePaperMetadataInput) error {
	return a.paperRepo.UpdatePaperMetadata(ctx, in.PaperID, in.Title, in.Authors, in.Year, in.Pages)
}

func (a *Activities) WritePaperArtifactsActivity(ctx context.Context, in WritePaperArtifactsInput) error {
	_ = ctx
	base := filepath.Join(a.cfg.DataOutRoot, "papers", strconv.FormatInt(in.PaperID, 10))
	if err := util.EnsureDir(base); err != nil {
		return err
	}
	if err := util.WriteJSONAtomic(filepath.Join(base, "metadata.json"), in.Metadata); err != nil {
		return err
	}
	rows := make([]any, 0, len(in.Chunks))
	for _, c := range in.Chunks {
		rows = append(rows, c)
	}
	if err := util.WriteJSONLinesAtomic(filepath.Join(base, "chunks.jsonl"), rows); err != nil {
		return err
	}
	return util.WriteJSONAtomic(filepath.Join(base, "processing_log.json"), in.ProcessingLog)
}

func heuristicTitleAndAuthors(text string) (string, string) {
	s := bufio.NewScanner(strings.NewReader(text))
	nonEmpty := make([]string, 0, 4)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		nonEmpty = append(nonEmpty, line)
		if len(nonEmpty) == 4 {
			break
		}
	}
	title := ""
	authors := ""
	if len(nonEmpty) > 0 {
		title = nonEmpty[0]
	}
	if len(nonEmpty) > 1 {
		authors = nonEmpty[1]
	}
	return title, authors
}
