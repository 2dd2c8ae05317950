package vision

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"hoverhold/internal/vehicle"
)

// DirSource plays the png/jpeg frames of a directory in name order, one per
// call, looping at the end. It implements vehicle.VisionSource.
type DirSource struct {
	det   *Detector
	files []string

	mu   sync.Mutex
	next int
	last Region
}

func NewDirSource(dir string, det *Detector) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "vision: read frame dir")
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, errors.Errorf("vision: no frames in %s", dir)
	}
	sort.Strings(files)
	return &DirSource{det: det, files: files}, nil
}

func (s *DirSource) Next(ctx context.Context) (vehicle.Observation, error) {
	if err := ctx.Err(); err != nil {
		return vehicle.Observation{}, err
	}
	s.mu.Lock()
	path := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)
	s.mu.Unlock()

	img, err := imaging.Open(path)
	if err != nil {
		return vehicle.Observation{}, errors.Wrapf(err, "vision: open %s", filepath.Base(path))
	}
	obs, region := s.det.Detect(img)

	s.mu.Lock()
	s.last = region
	s.mu.Unlock()
	return obs, nil
}

// LastRegion is the region behind the most recent observation.
func (s *DirSource) LastRegion() Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
