// SPDX-License-Identifier: MIT

package admission

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolevel/audiolevel/internal/queue"
)

// mp3Head is an ID3v2 header followed by padding; the stdlib sniffer
// reports it as audio/mpeg.
func mp3Head(size int) []byte {
	b := make([]byte, size)
	copy(b, []byte("ID3\x04\x00\x00\x00\x00\x00\x00"))
	return b
}

func newTestController(t *testing.T, minFree int64) (*Controller, *queue.Queue) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	q := queue.New(rdb, queue.Options{})
	dir := t.TempDir()
	uploadDir := filepath.Join(dir, "uploads")
	outputDir := filepath.Join(dir, "outputs")
	require.NoError(t, os.MkdirAll(uploadDir, 0o755))
	require.NoError(t, os.MkdirAll(outputDir, 0o755))

	gate := NewDiskGate(uploadDir, minFree)
	return NewController(uploadDir, outputDir, 1<<20, gate, q), q
}

func TestAdmitHappyPath(t *testing.T) {
	c, q := newTestController(t, 0)
	ctx := context.Background()

	body := mp3Head(4096)
	adm, err := c.Admit(ctx, "My Episode.mp3", int64(len(body)), bytes.NewReader(body))
	require.NoError(t, err)
	defer adm.Release()

	assert.True(t, queue.ValidJobID(adm.Job.ID))
	assert.Equal(t, "My Episode.mp3", adm.Job.OriginalName)
	assert.Equal(t, int64(len(body)), adm.Job.FileSize)
	assert.Equal(t, queue.PriorityHigh, adm.Job.Priority)
	assert.True(t, strings.HasSuffix(adm.Job.InputPath, adm.Job.ID+"-input.mp3"))
	assert.True(t, strings.HasSuffix(adm.Job.OutputPath, adm.Job.ID+"-output.mp3"))

	// The file landed and the job is queued.
	_, err = os.Stat(adm.Job.InputPath)
	require.NoError(t, err)
	job, err := q.Get(ctx, adm.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StateWaiting, job.State)
}

func TestAdmitRefusals(t *testing.T) {
	c, _ := newTestController(t, 0)
	ctx := context.Background()

	cases := []struct {
		name     string
		filename string
		size     int64
		body     []byte
		wantCode string
	}{
		{"no file", "", 10, mp3Head(10), CodeNoFile},
		{"empty", "a.mp3", 0, nil, CodeEmptyFile},
		{"oversize", "a.mp3", 2 << 20, mp3Head(16), CodeFileTooLarge},
		{"bad extension", "notes.txt", 10, []byte("0123456789"), CodeInvalidFileType},
		{"exe masquerading", "a.exe", 10, mp3Head(10), CodeInvalidFileType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Admit(ctx, tc.filename, tc.size, bytes.NewReader(tc.body))
			var aerr *Error
			require.ErrorAs(t, err, &aerr)
			assert.Equal(t, tc.wantCode, aerr.Code)
		})
	}
}

func TestAdmitSniffRejectsTextDressedAsAudio(t *testing.T) {
	c, _ := newTestController(t, 0)

	body := []byte("this is definitely not audio, just a kilobyte of prose. " + strings.Repeat("padding ", 100))
	_, err := c.Admit(context.Background(), "fake.mp3", int64(len(body)), bytes.NewReader(body))

	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, CodeInvalidFormat, aerr.Code)
	assert.Equal(t, http.StatusBadRequest, aerr.Status)

	// The on-disk copy must be gone.
	entries, rerr := os.ReadDir(c.UploadDir)
	require.NoError(t, rerr)
	assert.Empty(t, entries)
}

func TestAdmitOggContainer(t *testing.T) {
	c, _ := newTestController(t, 0)

	body := make([]byte, 2048)
	copy(body, []byte("OggS\x00\x02"))
	adm, err := c.Admit(context.Background(), "voice.ogg", int64(len(body)), bytes.NewReader(body))
	require.NoError(t, err)
	adm.Release()
}

func TestAdmitInsufficientStorage(t *testing.T) {
	// A petabyte floor cannot be satisfied by any test filesystem.
	c, _ := newTestController(t, 1<<50)

	body := mp3Head(1024)
	_, err := c.Admit(context.Background(), "a.mp3", int64(len(body)), bytes.NewReader(body))
	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, CodeInsufficientStorage, aerr.Code)
	assert.Equal(t, http.StatusServiceUnavailable, aerr.Status)
}

func TestAdmitQueueOverloaded(t *testing.T) {
	c, q := newTestController(t, 0)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		job := &queue.Job{
			ID:        fmt.Sprintf("filler%06d", i),
			InputPath: "/dev/null",
			FileSize:  1024,
			Priority:  queue.PriorityHigh,
		}
		require.NoError(t, q.Enqueue(ctx, job))
	}

	body := mp3Head(1024)
	_, err := c.Admit(ctx, "a.mp3", int64(len(body)), bytes.NewReader(body))
	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, CodeQueueOverloaded, aerr.Code)
	assert.Contains(t, aerr.Message, "overloaded")
}

func TestAdmitReleasesReservationOnRefusal(t *testing.T) {
	c, _ := newTestController(t, 0)

	body := []byte("plain text " + strings.Repeat("x", 500))
	_, err := c.Admit(context.Background(), "fake.mp3", int64(len(body)), bytes.NewReader(body))
	require.Error(t, err)
	assert.Zero(t, c.Disk.Reserved(), "refused uploads must not leak reservations")
}

func TestDiskGateReserveRelease(t *testing.T) {
	g := NewDiskGate(t.TempDir(), 0)

	release, ok, err := g.Reserve(1024)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1024*diskOverheadFactor), g.Reserved())

	release()
	assert.Zero(t, g.Reserved())
	release() // second call is a no-op
	assert.Zero(t, g.Reserved())
}

func TestClientID(t *testing.T) {
	req := func(remote string, hdr map[string]string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = remote
		for k, v := range hdr {
			r.Header.Set(k, v)
		}
		return r
	}

	assert.Equal(t, "9.9.9.9",
		ClientID(req("1.1.1.1:1234", map[string]string{"X-Forwarded-For": "9.9.9.9, 2.2.2.2"})))
	assert.Equal(t, "8.8.8.8",
		ClientID(req("1.1.1.1:1234", map[string]string{"X-Real-IP": "8.8.8.8"})))
	assert.Equal(t, "1.1.1.1", ClientID(req("1.1.1.1:1234", nil)))
	assert.Equal(t, "unknown", ClientID(req("", nil)))
}

func TestAdmissionErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("admit: %w", errEmptyFile)
	var aerr *Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, CodeEmptyFile, aerr.Code)
}
