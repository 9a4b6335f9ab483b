package recognition

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// SnapshotSource fetches a still JPEG from a camera's snapshot URL on every capture.
type SnapshotSource struct {
	client *resty.Client
	url    string
}

// NewSnapshotSource creates a source polling url.
func NewSnapshotSource(url string, timeout time.Duration) *SnapshotSource {
	client := resty.New().SetTimeout(timeout)
	return &SnapshotSource{client: client, url: url}
}

// Capture downloads the current snapshot.
func (s *SnapshotSource) Capture(ctx context.Context) ([]byte, error) {
	resp, err := s.client.R().SetContext(ctx).Get(s.url)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch snapshot: %s", resp.Status())
	}
	return resp.Body(), nil
}

// DirSource replays the images of a directory in name order, wrapping around.
type DirSource struct {
	files []string
	mu    sync.Mutex
	next  int
}

var imageExts = []string{".jpg", ".jpeg", ".png", ".webp", ".bmp", ".gif"}

// NewDirSource lists the images in dir.
func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !slices.Contains(imageExts, strings.ToLower(filepath.Ext(e.Name()))) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, errors.New("no images in frame directory")
	}
	return &DirSource{files: files}, nil
}

// Capture returns the next file.
func (s *DirSource) Capture(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	path := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)
	s.mu.Unlock()
	return os.ReadFile(path)
}
