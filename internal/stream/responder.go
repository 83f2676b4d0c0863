// Package stream serves stored video files over HTTP with single byte-range
// support for seeking players.
package stream

import (
	"alcyxob/video-app/internal/domain"
	"alcyxob/video-app/internal/logging"
	"alcyxob/video-app/internal/metrics"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strconv"
)

const chunkSize = 32 * 1024

// Serve errors.
var (
	ErrNotReady    = errors.New("video is not ready for streaming")
	ErrFileMissing = errors.New("video file not found")
)

// Responder serves stored video files with single-range support.
type Responder struct {
	logger *slog.Logger
}

// NewResponder returns a Responder logging under the "stream" component.
func NewResponder(logger *slog.Logger) *Responder {
	return &Responder{logger: logging.WithComponent(logger, "stream")}
}

// Serve writes the file at path for video. Access control is the caller's job.
// ErrNotReady and ErrFileMissing are returned before anything is written; all
// other outcomes, including 416 and client disconnects, are handled here.
func (s *Responder) Serve(w http.ResponseWriter, r *http.Request, video *domain.Video, path string) error {
	if video.Status != domain.StatusCompleted {
		return ErrNotReady
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Error("video file missing on disk", "videoId", video.ID.Hex(), "path", path)
			return ErrFileMissing
		}
		return fmt.Errorf("open video file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat video file: %w", err)
	}
	size := info.Size()

	contentType := video.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")

	rng, partial, err := ParseRange(r.Header.Get("Range"), size)
	if err != nil {
		metrics.StreamRequests.WithLabelValues("unsatisfiable").Inc()
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	status := http.StatusOK
	if partial {
		metrics.StreamRequests.WithLabelValues("partial").Inc()
		status = http.StatusPartialContent
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End, size))
	} else {
		metrics.StreamRequests.WithLabelValues("full").Inc()
		rng = ByteRange{Start: 0, End: size - 1}
	}
	length := rng.Length()

	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)

	if r.Method == http.MethodHead || length <= 0 {
		return nil
	}

	if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
		s.logger.Error("seek failed", "videoId", video.ID.Hex(), "error", err)
		return nil
	}
	buf := make([]byte, chunkSize)
	n, err := io.CopyBuffer(countingWriter{w}, io.LimitReader(f, length), buf)
	if err != nil {
		// Usually the player closed the connection or seeked elsewhere.
		s.logger.Debug("stream ended early", "videoId", video.ID.Hex(), "written", n, "error", err)
	}
	return nil
}

// countingWriter hides io.ReaderFrom on the response so copies go through the
// bounded buffer, and records bytes sent.
type countingWriter struct {
	w io.Writer
}

func (c countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	metrics.StreamBytes.Add(float64(n))
	return n, err
}
