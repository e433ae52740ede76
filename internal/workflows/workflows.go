package workflows

import (
	"fmt"
	"strings"
	"time"

	"paperquery/internal/activities"
	"paperquery/internal/providers"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const QueryGetPaperStatus = "GetPaperStatus"

type providerState struct {
	disabledUntil map[int]time.Time
	retries       map[string]int
}

func newProviderState() providerState {
	return providerState{disabledUntil: map[int]time.Time{}, retries: map[string]int{}}
}

// PaperIngestWorkflow runs one uploaded paper through extraction,
// sectioned chunking, embedding and indexing. The paper row moves from
// processing to ready, or to failed with a reason the API can show.
func PaperIngestWorkflow(ctx workflow.Context, input PaperIngestInput) (string, error) {
	status := PaperIngestStatus{
		PaperID:     input.PaperID,
		PaperPath:   input.PaperPath,
		CurrentStep: "init",
		Status:      "processing",
		RetryCounts: map[string]int{},
		Steps:       map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetPaperStatus, func() (PaperIngestStatus, error) {
		return status, nil
	}); err != nil {
		return "", err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	cooldown := durationOrDefault(input.CooldownSeconds, 900)
	providerCount := input.EmbedProviders
	if providerCount <= 0 {
		providerCount = 1
	}
	state := newProviderState()

	failPaper := func(reason string) (string, error) {
		status.Status = "failed"
		status.FailReason = reason
		status.Steps[status.CurrentStep] = "failed"
		_ = workflow.ExecuteActivity(ctx, "UpdatePaperStatusActivity", activities.UpdatePaperStatusInput{
			PaperID:    input.PaperID,
			Status:     "failed",
			FailReason: reason,
		}).Get(ctx, nil)
		return status.Status, nil
	}

	status.CurrentStep = "extract_pages"
	status.Steps[status.CurrentStep] = "processing"
	var pagesOut activities.ExtractPagesOutput
	if err := workflow.ExecuteActivity(ctx, "ExtractPagesActivity", activities.ExtractPagesInput{PaperPath: input.PaperPath}).Get(ctx, &pagesOut); err != nil {
		if isNoTextError(err) {
			return failPaper("no extractable text found (OCR not enabled)")
		}
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "extract_metadata"
	status.Steps[status.CurrentStep] = "processing"
	var metaOut activities.ExtractMetadataOutput
	if err := workflow.ExecuteActivity(ctx, "ExtractMetadataActivity", activities.ExtractMetadataInput{Pages: pagesOut.Pages, Filename: input.Filename}).Get(ctx, &metaOut); err != nil {
		return "", err
	}
	pageCount := len(pagesOut.Pages)
	_ = workflow.ExecuteActivity(ctx, "UpdatePaperMetadataActivity", activities.UpdatePaperMetadataInput{
		PaperID: input.PaperID,
		Title:   metaOut.Title,
		Authors: metaOut.Authors,
		Year:    metaOut.Year,
		Pages:   &pageCount,
	}).Get(ctx, nil)
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "chunk_pages"
	status.Steps[status.CurrentStep] = "processing"
	var chunkOut activities.ChunkPagesOutput
	if err := workflow.ExecuteActivity(ctx, "ChunkPagesActivity", activities.ChunkPagesInput{
		PaperID:      input.PaperID,
		Pages:        pagesOut.Pages,
		MaxChars:     input.ChunkMaxChars,
		OverlapChars: input.ChunkOverlap,
		Version:      defaultChunkVersion(input.ChunkVersion),
	}).Get(ctx, &chunkOut); err != nil {
		return "", err
	}
	if len(chunkOut.Chunks) == 0 {
		return failPaper("no usable chunks after sectioning")
	}
	status.ChunkCount = len(chunkOut.Chunks)
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "embed_chunks"
	status.Steps[status.CurrentStep] = "processing"
	embedOut, err := callEmbedWithFailover(ctx, &state, providerCount, cooldown, activities.EmbedChunksInput{
		Operation: "embed",
		PaperID:   input.PaperID,
		Input:     chunkOut.Chunks,
	}, status.RetryCounts)
	if err != nil {
		return "", err
	}
	status.Providers = append(status.Providers, embedOut.ProviderName)
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "upsert_chunks"
	status.Steps[status.CurrentStep] = "processing"
	if err := workflow.ExecuteActivity(ctx, "UpsertChunksActivity", activities.UpsertChunksInput{
		Chunks:           chunkOut.Chunks,
		Vectors:          embedOut.Vectors,
		EmbeddingVersion: defaultEmbedVersion(input.EmbedVersion),
	}).Get(ctx, nil); err != nil {
		if isInvalidTextEncodingError(err) {
			return failPaper("paper contains invalid text encoding after extraction")
		}
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "write_artifacts"
	status.Steps[status.CurrentStep] = "processing"
	if err := workflow.ExecuteActivity(ctx, "WritePaperArtifactsActivity", activities.WritePaperArtifactsInput{
		PaperID: input.PaperID,
		Metadata: map[string]any{
			"paper_id":    input.PaperID,
			"filename":    input.Filename,
			"title":       metaOut.Title,
			"authors":     metaOut.Authors,
			"pages":       pageCount,
			"chunk_count": len(chunkOut.Chunks),
		},
		Chunks:        chunkOut.Chunks,
		ProcessingLog: map[string]any{"status": "ready", "steps": status.Steps, "generated_at": workflow.Now(ctx)},
	}).Get(ctx, nil); err != nil {
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "mark_ready"
	status.Steps[status.CurrentStep] = "processing"
	if err := workflow.ExecuteActivity(ctx, "UpdatePaperStatusActivity", activities.UpdatePaperStatusInput{
		PaperID: input.PaperID,
		Status:  "ready",
	}).Get(ctx, nil); err != nil {
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"
	status.CurrentStep = "done"
	status.Status = "ready"
	return status.Status, nil
}

func callEmbedWithFailover(ctx workflow.Context, state *providerState, providerCount int, cooldown time.Duration, input activities.EmbedChunksInput, retryCounts map[string]int) (activities.EmbedChunksOutput, error) {
	if retryCounts == nil {
		retryCounts = map[string]int{}
	}
	var lastErr error
	maxAttempts := providerCount * 4
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		idx := attempt % providerCount
		if isProviderDisabled(ctx, state, idx) {
			continue
		}
		input.ProviderIndex = idx
		var out activities.EmbedChunksOutput
		err := workflow.ExecuteActivity(ctx, "EmbedChunksActivity", input).Get(ctx, &out)
		if err == nil {
			return out, nil
		}
		lastErr = err
		key := fmt.Sprintf("embed-%d", idx)
		retryCounts[key]++
		switch providers.ClassifyError(err) {
		case providers.ErrorQuota:
			disableProviderUntil(ctx, state, idx, cooldown)
		case providers.ErrorRate:
			if retryCounts[key] <= 2 {
				workflow.Sleep(ctx, time.Duration(retryCounts[key]*2)*time.Second)
				attempt--
			} else {
				disableProviderUntil(ctx, state, idx, 2*time.Minute)
			}
		case providers.ErrorTransient:
			if retryCounts[key] <= 2 {
				workflow.Sleep(ctx, time.Duration(retryCounts[key])*time.Second)
				attempt--
			}
		default:
			disableProviderUntil(ctx, state, idx, time.Minute)
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("all embed providers exhausted")
	}
	return activities.EmbedChunksOutput{}, lastErr
}

func isProviderDisabled(ctx workflow.Context, state *providerState, idx int) bool {
	until, ok := state.disabledUntil[idx]
	if !ok {
		return false
	}
	return workflow.Now(ctx).Before(until)
}

func disableProviderUntil(ctx workflow.Context, state *providerState, idx int, d time.Duration) {
	state.disabledUntil[idx] = workflow.Now(ctx).Add(d)
}

func defaultChunkVersion(v string) string {
	if strings.TrimSpace(v) == "" {
		return "v1"
	}
	return v
}

func defaultEmbedVersion(v string) string {
	if strings.TrimSpace(v) == "" {
		return "v0"
	}
	return v
}

func isNoTextError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "no extractable text")
}

func isInvalidTextEncodingError(err error) bool {
	e := strings.ToLower(err.Error())
	return strings.Contains(e, "invalid byte sequence") || strings.Contains(e, "sqlstate 22021")
}

func durationOrDefault(seconds int, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}
