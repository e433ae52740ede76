package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"

	"paperquery/internal/storage"
	"paperquery/internal/util"
	"paperquery/internal/workflows"
)

func ingestWorkflowID(paperID int64) string {
	return fmt.Sprintf("ingest-paper-%d", paperID)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(128 << 20); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		if single, ok := firstSingleFile(r.MultipartForm.File); ok {
			files = append(files, single)
		}
	}
	if len(files) == 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("no files provided"))
		return
	}

	if err := util.EnsureDir(s.cfg.DataInRoot); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	type uploadResult struct {
		PaperID    int64  `json:"paper_id"`
		Filename   string `json:"filename"`
		WorkflowID string `json:"workflow_id"`
	}
	out := make([]uploadResult, 0, len(files))

	for _, fh := range files {
		if !strings.HasSuffix(strings.ToLower(fh.Filename), ".pdf") {
			continue
		}
		filename := filepath.Base(fh.Filename)
		paperID, err := s.papers.CreatePaper(r.Context(), filename)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		savedPath, err := saveUploadedFile(s.cfg.DataInRoot, fmt.Sprintf("%d_%s", paperID, filename), fh)
		if err != nil {
			_ = s.papers.UpdatePaperStatus(r.Context(), paperID, "failed", "upload write failed")
			writeErr(w, http.StatusInternalServerError, err)
			return
		}

		wfID := ingestWorkflowID(paperID)
		_, err = s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
			ID:                                       wfID,
			TaskQueue:                                s.cfg.TemporalTaskQueue,
			WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
			WorkflowExecutionErrorWhenAlreadyStarted: true,
		}, workflows.PaperIngestWorkflow, workflows.PaperIngestInput{
			PaperID:         paperID,
			PaperPath:       savedPath,
			Filename:        filename,
			ChunkMaxChars:   s.cfg.ChunkMaxChars,
			ChunkOverlap:    s.cfg.ChunkOverlapChars,
			EmbedVersion:    s.cfg.EmbedVersion,
			EmbedProviders:  s.embedProviders,
			CooldownSeconds: s.cfg.ProviderCooldownSecs,
		})
		if err != nil {
			_ = s.papers.UpdatePaperStatus(r.Context(), paperID, "failed", "ingest workflow start failed")
			writeErr(w, http.StatusConflict, err)
			return
		}
		out = append(out, uploadResult{PaperID: paperID, Filename: filename, WorkflowID: wfID})
	}

	if len(out) == 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("no pdf files provided"))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"uploaded": out})
}

func (s *Server) handleListPapers(w http.ResponseWriter, r *http.Request) {
	papers, err := s.papers.ListPapers(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"papers": papers})
}

func (s *Server) handleGetPaper(w http.ResponseWriter, r *http.Request) {
	paperID, ok := paperIDParam(w, r)
	if !ok {
		return
	}
	p, err := s.papers.GetPaperByID(r.Context(), paperID)
	if errors.Is(err, storage.ErrNotFound) {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handlePaperStatus reports live ingest progress from the workflow
// query handler, falling back to the papers row once the workflow is
// gone.
func (s *Server) handlePaperStatus(w http.ResponseWriter, r *http.Request) {
	paperID, ok := paperIDParam(w, r)
	if !ok {
		return
	}
	var status workflows.PaperIngestStatus
	resp, err := s.temporal.QueryWorkflow(r.Context(), ingestWorkflowID(paperID), "", workflows.QueryGetPaperStatus)
	if err == nil {
		if err := resp.Get(&status); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	p, err := s.papers.GetPaperByID(r.Context(), paperID)
	if errors.Is(err, storage.ErrNotFound) {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	count, err := s.chunks.CountChunksByPaper(r.Context(), paperID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, workflows.PaperIngestStatus{
		PaperID:    p.PaperID,
		Status:     p.Status,
		FailReason: p.FailReason,
		ChunkCount: count,
	})
}

func (s *Server) handlePaperChunks(w http.ResponseWriter, r *http.Request) {
	paperID, ok := paperIDParam(w, r)
	if !ok {
		return
	}
	if _, err := s.papers.GetPaperByID(r.Context(), paperID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeErr(w, http.StatusNotFound, err)
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	chunks, err := s.chunks.ListChunksByPaper(r.Context(), paperID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
}

func (s *Server) handlePaperFile(w http.ResponseWriter, r *http.Request) {
	paperID, ok := paperIDParam(w, r)
	if !ok {
		return
	}
	p, err := s.papers.GetPaperByID(r.Context(), paperID)
	if errors.Is(err, storage.ErrNotFound) {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	path := util.SafeJoin(s.cfg.DataInRoot, fmt.Sprintf("%d_%s", p.PaperID, filepath.Base(p.Filename)))
	http.ServeFile(w, r, path)
}

func (s *Server) handleDeletePaper(w http.ResponseWriter, r *http.Request) {
	paperID, ok := paperIDParam(w, r)
	if !ok {
		return
	}
	err := s.papers.DeletePaper(r.Context(), paperID)
	if errors.Is(err, storage.ErrNotFound) {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": paperID})
}

func paperIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "paperID"), 10, 64)
	if err != nil || id <= 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid paper id"))
		return 0, false
	}
	return id, true
}

func saveUploadedFile(dstDir, name string, fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dstDir, "upload-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, src); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close upload: %w", err)
	}

	dst := util.SafeJoin(dstDir, name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}
	return dst, nil
}

func firstSingleFile(m map[string][]*multipart.FileHeader) (*multipart.FileHeader, bool) {
	for _, v := range m {
		if len(v) > 0 {
			return v[0], true
		}
	}
	return nil, false
}
