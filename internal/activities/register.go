package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.ExtractPagesActivity)
	w.RegisterActivity(a.ExtractMetadataActivity)
	w.RegisterActivity(a.ChunkPagesActivity)
	w.RegisterActivity(a.EmbedChunksActivity)
	w.RegisterActivity(a.UpsertChunksActivity)
	w.RegisterActivity(a.UpdatePaperStatusActivity)
	w.RegisterActivity(a.UpdatePaperMetadataActivity)
	w.RegisterActivity(a.WritePaperArtifactsActivity)
}
