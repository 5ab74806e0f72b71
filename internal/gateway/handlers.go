package gateway

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"drumscribe/internal/artifacts"
	"drumscribe/internal/ledger"
	"drumscribe/internal/logging"
)

// handleSubmit accepts a multipart audio upload and queues it for
// transcription. The job is durably recorded and enqueued before the
// response is written, so a 202 means the work will happen.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.cfg.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+4096)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d MiB limit", s.cfg.Upload.MaxSizeMiB))
			return
		}
		s.writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	ext := filepath.Ext(filename)
	if !s.cfg.FormatAllowed(ext) {
		s.writeError(w, http.StatusUnsupportedMediaType,
			fmt.Sprintf("unsupported audio format %q", ext))
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read upload")
		return
	}
	if int64(len(data)) > maxBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("upload exceeds %d MiB limit", s.cfg.Upload.MaxSizeMiB))
		return
	}
	if len(data) == 0 {
		s.writeError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	}

	job, err := s.store.Create(r.Context(), filename, int64(len(data)))
	if err != nil {
		s.logger.Error("create job", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "create job")
		return
	}
	logger := s.logger.With(logging.String(logging.FieldJobID, job.ID))

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(ext)
	}
	sourceKey, err := s.artifacts.PutInput(r.Context(), job.ID, filename, contentType, data)
	if err != nil {
		logger.Error("store upload", logging.Error(err))
		if _, markErr := s.store.MarkError(r.Context(), job.ID, "failed to store uploaded audio"); markErr != nil {
			logger.Error("mark job failed", logging.Error(markErr))
		}
		s.writeError(w, http.StatusInternalServerError, "store upload")
		return
	}
	if err := s.store.SetSourceKey(r.Context(), job.ID, sourceKey); err != nil {
		logger.Error("record upload key", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "record upload")
		return
	}
	if _, err := s.queue.Enqueue(r.Context(), job.ID); err != nil {
		logger.Error("enqueue job", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "enqueue job")
		return
	}

	logger.Info("job submitted",
		logging.String("filename", filename),
		logging.Int64("size_bytes", int64(len(data))),
	)
	job.SourceKey = sourceKey
	s.writeJSON(w, http.StatusAccepted, viewJob(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []ledger.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := ledger.ParseStatus(raw)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", raw))
			return
		}
		statuses = append(statuses, status)
	}

	jobs, err := s.store.List(r.Context(), statuses...)
	if err != nil {
		s.logger.Error("list jobs", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "list jobs")
		return
	}

	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, viewJob(job))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, viewJob(job))
}

// handleResult returns the transcription outcome with fresh download links.
// Links are minted per request; stale ones simply expire.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != ledger.StatusCompleted {
		s.writeError(w, http.StatusConflict,
			fmt.Sprintf("job is %s, result available only once completed", job.Status))
		return
	}

	result, err := job.ResultFor()
	if err != nil {
		s.logger.Error("decode result", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "decode result")
		return
	}

	records, err := s.artifacts.List(r.Context(), job.ID)
	if err != nil {
		s.logger.Error("list artifacts", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "list artifacts")
		return
	}

	base := s.downloadBase()
	downloads := make(map[string]string, len(records))
	for _, record := range records {
		downloads[string(record.Format)] = base + s.artifacts.SignedPath(job.ID, record.Format)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":        job.ID,
		"result":    result,
		"downloads": downloads,
		"expiresIn": s.cfg.Storage.URLTTLSeconds,
	})
}

// handleDeleteJob removes a job, its exports, and its uploaded audio. A
// worker holding the job will notice the missing row and drop the work.
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	if err := s.artifacts.DeleteAll(r.Context(), job.ID, job.SourceKey); err != nil {
		s.logger.Error("delete artifacts", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "delete artifacts")
		return
	}
	if err := s.store.Delete(r.Context(), job.ID); err != nil && !errors.Is(err, ledger.ErrNotFound) {
		s.logger.Error("delete job", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "delete job")
		return
	}

	s.logger.Info("job deleted", logging.String(logging.FieldJobID, job.ID))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("job stats", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "job stats")
		return
	}
	queued, leased, err := s.queue.Depth(r.Context())
	if err != nil {
		s.logger.Error("queue depth", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "queue depth")
		return
	}

	byStatus := make(map[string]int, len(stats))
	total := 0
	for status, count := range stats {
		byStatus[string(status)] = count
		total += count
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"jobs": map[string]any{
			"total":    total,
			"byStatus": byStatus,
		},
		"queue": map[string]int{
			"queued": queued,
			"leased": leased,
		},
		"uptimeSeconds": int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDownload serves an export blob in exchange for a valid signed token.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	jobID, format, err := s.artifacts.VerifyToken(token)
	if errors.Is(err, artifacts.ErrTokenExpired) {
		s.writeError(w, http.StatusGone, "download link expired")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusForbidden, "invalid download token")
		return
	}

	record, err := s.artifacts.Resolve(r.Context(), jobID, format)
	if errors.Is(err, artifacts.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	if err != nil {
		s.logger.Error("resolve artifact", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "resolve artifact")
		return
	}

	rc, _, err := s.artifacts.OpenRecord(r.Context(), record)
	if err != nil {
		s.logger.Error("open artifact", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "open artifact")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", record.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(record.SizeBytes, 10))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(record.Key)))
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("stream artifact", logging.Error(err))
	}
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (*ledger.Job, bool) {
	id := mux.Vars(r)["id"]
	job, err := s.store.Get(r.Context(), id)
	if errors.Is(err, ledger.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("load job", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "load job")
		return nil, false
	}
	return job, true
}
