// SPDX-License-Identifier: MIT

// Package admission refuses work before it enters the queue: per-client
// rate budget, disk reservation, queue backpressure and upload
// validation.
package admission

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/audiolevel/audiolevel/internal/log"
	"github.com/audiolevel/audiolevel/internal/queue"
)

// Extensions accepted at upload. Matching is case-insensitive.
var allowedExtensions = map[string]struct{}{
	".mp3": {}, ".wav": {}, ".flac": {}, ".ogg": {}, ".oga": {},
	".opus": {}, ".m4a": {}, ".aac": {}, ".wma": {}, ".webm": {}, ".mp4": {},
}

// Sniffed media types accepted besides the audio/* and video/* families.
// Raw AAC, WMA and Opus payloads have no stdlib signature and sniff as
// octet-stream; the extension gate already ran by then.
var allowedSniffTypes = map[string]struct{}{
	"application/ogg":          {},
	"application/octet-stream": {},
}

const sniffLen = 8 << 10

// Controller drives the admission sequence for one upload.
type Controller struct {
	UploadDir   string
	OutputDir   string
	MaxFileSize int64
	Disk        *DiskGate
	Queue       *queue.Queue
	logger      zerolog.Logger
}

// NewController wires the admission sequence.
func NewController(uploadDir, outputDir string, maxFileSize int64, disk *DiskGate, q *queue.Queue) *Controller {
	return &Controller{
		UploadDir:   uploadDir,
		OutputDir:   outputDir,
		MaxFileSize: maxFileSize,
		Disk:        disk,
		Queue:       q,
		logger:      log.WithComponent("admission"),
	}
}

// Admitted is a successfully admitted upload: the enqueued job, the wait
// estimate for the response, and the disk reservation release, which the
// worker calls once the job is terminal.
type Admitted struct {
	Job           *queue.Job
	EstimatedWait time.Duration
	Release       func()
}

// Admit runs the full admission sequence: size gates, disk reservation,
// queue backpressure, extension allow-list, streamed write, content
// sniff, enqueue. Refusals are returned as *Error with an HTTP mapping;
// any other error is an internal fault.
func (c *Controller) Admit(ctx context.Context, filename string, size int64, src io.Reader) (*Admitted, error) {
	if filename == "" {
		return nil, errNoFile
	}
	if size == 0 {
		return nil, errEmptyFile
	}
	if size > c.MaxFileSize {
		return nil, &Error{
			Code:    CodeFileTooLarge,
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("file exceeds the %d byte limit", c.MaxFileSize),
		}
	}

	release, ok, err := c.Disk.Reserve(size)
	if err != nil {
		return nil, fmt.Errorf("disk check: %w", err)
	}
	if !ok {
		return nil, errStorageFull
	}
	admitted := false
	defer func() {
		if !admitted {
			release()
		}
	}()

	priority := queue.PriorityForSize(size)
	health, err := c.Queue.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue health: %w", err)
	}
	if !health.Admits(priority) {
		return nil, &Error{
			Code:    CodeQueueOverloaded,
			Status:  http.StatusServiceUnavailable,
			Message: fmt.Sprintf("queue is %s, try again in about %s", health.Status, c.Queue.EstimatedWait(health.Waiting+1)),
		}
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := allowedExtensions[ext]; !ok {
		return nil, errBadExtension
	}

	id, err := queue.NewJobID()
	if err != nil {
		return nil, err
	}
	inputPath := filepath.Join(c.UploadDir, id+"-input"+ext)

	written, err := c.writeUpload(inputPath, src)
	if err != nil {
		return nil, err
	}
	if aerr := c.sniff(inputPath); aerr != nil {
		_ = os.Remove(inputPath)
		return nil, aerr
	}

	job := &queue.Job{
		ID:           id,
		InputPath:    inputPath,
		OutputPath:   filepath.Join(c.OutputDir, id+"-output"+ext),
		OriginalName: filepath.Base(filename),
		FileSize:     written,
		Priority:     queue.PriorityForSize(written),
	}
	if err := c.Queue.Enqueue(ctx, job); err != nil {
		_ = os.Remove(inputPath)
		return nil, err
	}

	admitted = true
	c.logger.Info().
		Str("job_id", id).
		Str("name", job.OriginalName).
		Int64("size", written).
		Msg("upload admitted")
	return &Admitted{
		Job:           job,
		EstimatedWait: c.Queue.EstimatedWait(health.Waiting),
		Release:       release,
	}, nil
}

// writeUpload streams the body to disk, enforcing the size ceiling while
// copying rather than trusting the declared size.
func (c *Controller) writeUpload(path string, src io.Reader) (int64, error) {
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create upload file: %w", err)
	}
	written, err := io.Copy(dst, io.LimitReader(src, c.MaxFileSize+1))
	cerr := dst.Close()
	switch {
	case err != nil:
		_ = os.Remove(path)
		return 0, fmt.Errorf("write upload: %w", err)
	case cerr != nil:
		_ = os.Remove(path)
		return 0, fmt.Errorf("close upload: %w", cerr)
	case written == 0:
		_ = os.Remove(path)
		return 0, errEmptyFile
	case written > c.MaxFileSize:
		_ = os.Remove(path)
		return 0, &Error{
			Code:    CodeFileTooLarge,
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("file exceeds the %d byte limit", c.MaxFileSize),
		}
	}
	return written, nil
}

// sniff checks the on-disk head against the media-type allow-list. Some
// legitimate audio ships in video containers, so both families pass.
func (c *Controller) sniff(path string) *Error {
	f, err := os.Open(path)
	if err != nil {
		return errBadContent
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return errBadContent
	}
	ct := http.DetectContentType(head[:n])
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if strings.HasPrefix(ct, "audio/") || strings.HasPrefix(ct, "video/") {
		return nil
	}
	if _, ok := allowedSniffTypes[ct]; ok {
		return nil
	}
	c.logger.Warn().Str("path", path).Str("detected", ct).Msg("content sniff refused upload")
	return errBadContent
}
