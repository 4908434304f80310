package playback

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeMedia(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestServeFile(t *testing.T) {
	path := writeMedia(t, "clip.mp4", "0123456789")
	srv := NewServer(nil)

	tests := []struct {
		name       string
		method     string
		rangeHdr   string
		wantStatus int
		wantBody   string
		wantRange  string
	}{
		{"whole file", http.MethodGet, "", http.StatusOK, "0123456789", ""},
		{"partial", http.MethodGet, "bytes=2-4", http.StatusPartialContent, "234", "bytes 2-4/10"},
		{"suffix", http.MethodGet, "bytes=-3", http.StatusPartialContent, "789", "bytes 7-9/10"},
		{"malformed range serves everything", http.MethodGet, "items=1-2", http.StatusOK, "0123456789", ""},
		{"unsatisfiable", http.MethodGet, "bytes=50-", http.StatusRequestedRangeNotSatisfiable, "", "bytes */10"},
		{"head has no body", http.MethodHead, "", http.StatusOK, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/media", nil)
			if tt.rangeHdr != "" {
				req.Header.Set("Range", tt.rangeHdr)
			}
			rr := httptest.NewRecorder()
			if err := srv.ServeFile(rr, req, path); err != nil {
				t.Fatalf("ServeFile() error = %v", err)
			}
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusRequestedRangeNotSatisfiable && rr.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rr.Body.String(), tt.wantBody)
			}
			if got := rr.Header().Get("Content-Range"); got != tt.wantRange {
				t.Errorf("Content-Range = %q, want %q", got, tt.wantRange)
			}
		})
	}
}

func TestServeFile_Missing(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/media", nil)
	if err := NewServer(nil).ServeFile(rr, req, filepath.Join(t.TempDir(), "gone.mp4")); err != nil {
		t.Fatal(err)
	}
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestServeDownload(t *testing.T) {
	path := writeMedia(t, ".render.mp4", "mp4")
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/download", nil)
	if err := NewServer(nil).ServeDownload(rr, req, path, "Final Cut.mp4"); err != nil {
		t.Fatal(err)
	}
	if got := rr.Header().Get("Content-Disposition"); got != `attachment; filename="Final Cut.mp4"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	if got := rr.Header().Get("Content-Type"); got != "video/mp4" {
		t.Errorf("Content-Type = %q", got)
	}
}
