// Package playback streams local media files and finished renders over HTTP
// with single byte-range support.
package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cutroom/cutroom-agent/internal/logging"
)

// Service serves files from disk. ServeDownload adds an attachment
// disposition with the given file name.
type Service interface {
	ServeFile(w http.ResponseWriter, r *http.Request, path string) error
	ServeDownload(w http.ResponseWriter, r *http.Request, path, name string) error
}

// mediaTypes covers containers missing from the platform mime table.
var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".edl":  "text/plain; charset=utf-8",
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logging.WithComponent(logging.Discard(logger), "playback")}
}

func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, path string) error {
	return s.serve(w, r, path, "")
}

func (s *Server) ServeDownload(w http.ResponseWriter, r *http.Request, path, name string) error {
	if name == "" {
		name = filepath.Base(path)
	}
	return s.serve(w, r, path, name)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, path, attachment string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("open %s: %w", logging.SanitizePath(path), err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", logging.SanitizePath(path), err)
	}
	if stat.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}

	size := stat.Size()
	ext := strings.ToLower(filepath.Ext(path))
	contentType, ok := mediaTypes[ext]
	if !ok {
		contentType = mime.TypeByExtension(ext)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType)
	h.Set("Last-Modified", stat.ModTime().UTC().Format(http.TimeFormat))
	if attachment != "" {
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": attachment}))
	}

	rng, partial, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case errors.Is(err, ErrInvalidRange):
		s.logger.Debug("ignoring malformed range header", "range", r.Header.Get("Range"))
		partial = false
	}

	status := http.StatusOK
	length := size
	if partial {
		status = http.StatusPartialContent
		length = rng.Length()
		h.Set("Content-Range", rng.ContentRange(size))
		if _, err := file.Seek(rng.Start, io.SeekStart); err != nil {
			return fmt.Errorf("seek: %w", err)
		}
	}
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return nil
	}
	if _, err := io.CopyN(w, file, length); err != nil && !errors.Is(err, io.EOF) {
		s.logger.Debug("client stopped reading", "error", err)
	}
	return nil
}
