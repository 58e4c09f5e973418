package capture

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"jordanella.com/scenario-detector/internal/cv"
	"jordanella.com/scenario-detector/internal/logging"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".webp": true,
}

// DirectorySource replays the image files of a directory in name order, one per
// acquisition. Files are resized to the capture size.
type DirectorySource struct {
	dir    string
	loop   bool
	loader cv.ImageLoader
	logger *zap.Logger

	mu      sync.Mutex
	files   []string
	next    int
	size    image.Point
	running bool
}

// NewDirectorySource creates a source over dir. With loop set the files repeat forever.
func NewDirectorySource(dir string, loader cv.ImageLoader, loop bool) *DirectorySource {
	return &DirectorySource{
		dir:    dir,
		loop:   loop,
		loader: loader,
		logger: logging.NewLogger("DirectorySource"),
	}
}

func (s *DirectorySource) Start(size image.Point) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read frame directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		files = append(files, filepath.Join(s.dir, entry.Name()))
	}
	if len(files) == 0 {
		return fmt.Errorf("no image files in %s", s.dir)
	}
	sort.Strings(files)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = files
	s.size = size
	s.running = true
	// A restart after a resize keeps the replay position
	if s.next >= len(files) && s.loop {
		s.next = 0
	}
	return nil
}

func (s *DirectorySource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

// AcquireLatestFrame decodes the next file. Undecodable files are skipped.
func (s *DirectorySource) AcquireLatestFrame() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempts := 0; s.running && attempts < len(s.files); attempts++ {
		if s.next >= len(s.files) {
			if !s.loop {
				return nil
			}
			s.next = 0
		}

		path := s.files[s.next]
		s.next++

		frame, err := s.loader.Load(path, s.size.X, s.size.Y)
		if err != nil {
			s.logger.Warn("Skipping frame file", zap.String("path", path), zap.Error(err))
			continue
		}
		return frame
	}
	return nil
}

// Exhausted reports whether a non-looping replay handed out every file
func (s *DirectorySource) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.loop && len(s.files) > 0 && s.next >= len(s.files)
}

// Len returns the number of frame files found by the last Start
func (s *DirectorySource) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}
