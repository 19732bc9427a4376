// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/audiolevel/audiolevel/internal/admission"
	"github.com/audiolevel/audiolevel/internal/queue"
)

// Error codes owned by the HTTP layer.
const (
	codeInvalidJobID = "INVALID_JOB_ID"
	codeJobNotFound  = "JOB_NOT_FOUND"
	codeNotReady     = "NOT_READY"
	codeFileExpired  = "FILE_EXPIRED"
	codeInternal     = "INTERNAL_ERROR"
)

// multipartMemory bounds the in-memory part buffer; larger uploads spill
// to a temp file.
const multipartMemory = 8 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	clientID := admission.ClientID(r)

	// The budget is consumed before any validation: a later sniff refusal
	// still counts toward the bucket.
	if d := s.limiter.Allow(r.Context(), clientID); !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
		writeError(w, http.StatusTooManyRequests, admission.CodeRateLimitExceeded,
			"upload limit reached, retry in "+strconv.Itoa(d.RetryAfter)+"s")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxFileSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, admission.CodeNoFile, "expected a multipart upload with a 'file' field")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, admission.CodeNoFile, "no file provided in the 'file' field")
		return
	}
	defer file.Close()

	adm, err := s.controller.Admit(r.Context(), header.Filename, header.Size, file)
	if err != nil {
		var aerr *admission.Error
		if errors.As(err, &aerr) {
			writeError(w, aerr.Status, aerr.Code, aerr.Message)
			return
		}
		s.logger.Error().Err(err).Msg("admission failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "could not accept the upload")
		return
	}
	go s.releaseWhenTerminal(adm.Job.ID, adm.Release)

	writeJSON(w, http.StatusCreated, map[string]any{
		"jobId":             adm.Job.ID,
		"status":            "queued",
		"outputFormat":      extFormat(adm.Job.OutputPath),
		"originalName":      adm.Job.OriginalName,
		"estimatedWaitTime": int(adm.EstimatedWait.Seconds()),
	})
}

// releaseWhenTerminal frees the upload's disk reservation once the job
// stops needing scratch space. The deadline backstops lost records.
func (s *Server) releaseWhenTerminal(jobID string, release func()) {
	defer release()
	deadline := time.After(30 * time.Minute)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-deadline:
			return
		case <-ticker.C:
			job, err := s.queue.Get(s.baseCtx, jobID)
			if errors.Is(err, queue.ErrNotFound) {
				return
			}
			if err == nil && job.State.Terminal() {
				return
			}
		}
	}
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !queue.ValidJobID(id) {
		writeError(w, http.StatusBadRequest, codeInvalidJobID, "job id must be 12 URL-safe characters")
		return
	}
	job, err := s.queue.Get(r.Context(), id)
	if errors.Is(err, queue.ErrNotFound) {
		writeError(w, http.StatusNotFound, codeJobNotFound, "no such job")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "job lookup failed")
		return
	}

	body := map[string]any{
		"jobId":    job.ID,
		"status":   job.State,
		"progress": job.Progress,
	}
	if job.Stage != "" {
		body["stage"] = job.Stage
	}
	if job.Result != nil {
		body["result"] = map[string]any{
			"outputFormat":   extFormat(job.Result.OutputPath),
			"winnerName":     job.Result.WinnerName,
			"reason":         job.Result.Reason,
			"qualityMethod":  job.Result.QualityMethod,
			"integratedLufs": job.Result.IntegratedLUFS,
			"truePeak":       job.Result.TruePeak,
			"downloadUrl":    "/upload/job/" + job.ID + "/download",
		}
	}
	if job.FailedReason != "" && job.State == queue.StateFailed {
		body["error"] = job.FailedReason
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !queue.ValidJobID(id) {
		writeError(w, http.StatusBadRequest, codeInvalidJobID, "job id must be 12 URL-safe characters")
		return
	}
	job, err := s.queue.Get(r.Context(), id)
	if errors.Is(err, queue.ErrNotFound) {
		writeError(w, http.StatusNotFound, codeJobNotFound, "no such job")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "job lookup failed")
		return
	}
	if job.State != queue.StateCompleted || job.Result == nil {
		writeError(w, http.StatusBadRequest, codeNotReady, "job has not completed yet")
		return
	}
	if _, err := os.Stat(job.Result.OutputPath); err != nil {
		writeError(w, http.StatusNotFound, codeFileExpired, "artifact has expired")
		return
	}

	name := downloadFilename(job.OriginalName, filepath.Ext(job.Result.OutputPath))
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeFile(w, r, job.Result.OutputPath)
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.limiter.Status(r.Context(), admission.ClientID(r)))
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	h, err := s.queue.Health(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "queue status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            h.Status,
		"acceptingJobs":     h.AcceptingJobs,
		"estimatedWaitTime": int(h.EstimatedWait.Seconds()),
		"waiting":           h.Waiting,
		"active":            h.Active,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	services := map[string]string{"redis": "up", "storage": "up"}
	status := "ok"
	code := http.StatusOK
	if err := s.queue.Ping(r.Context()); err != nil {
		services["redis"] = "down"
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if err := probeStorage(s.controller.OutputDir); err != nil {
		services["storage"] = "down"
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "services": services})
}

// probeStorage verifies the output directory is writable right now.
func probeStorage(dir string) error {
	f, err := os.CreateTemp(dir, ".healthprobe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready":  false,
			"reason": "store unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (s *Server) handleQueueHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.queue.Health(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, codeInternal, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"waiting":   h.Waiting,
		"active":    h.Active,
		"delayed":   h.Delayed,
		"completed": h.Completed,
		"failed":    h.Failed,
		"status":    h.Status,
	})
}

func extFormat(path string) string {
	return strings.TrimPrefix(filepath.Ext(path), ".")
}
