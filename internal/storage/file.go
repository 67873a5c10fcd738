package storage

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mExOms/sor/pkg/types"
	"github.com/sirupsen/logrus"
)

// FileStore writes learner snapshots as JSON files under
// base_path/learner_snapshot/YYYY/MM/DD/. Every save creates a new file and
// the newest one is loaded.
type FileStore struct {
	config FileConfig
	now    func() time.Time
	logger *logrus.Entry
}

// NewFileStore creates the base directory and returns a store
func NewFileStore(config FileConfig, logger *logrus.Entry) (*FileStore, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &FileStore{
		config: config,
		now:    time.Now,
		logger: logger.WithField("component", "snapshot-files"),
	}, nil
}

// SetClock replaces the time source used for file names
func (s *FileStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *FileStore) root() string {
	return filepath.Join(s.config.BasePath, string(StorageTypeLearnerSnapshot))
}

// SaveSnapshot writes a new snapshot file
func (s *FileStore) SaveSnapshot(_ context.Context, venues map[string]*types.VenuePerformance) error {
	now := s.now().UTC()
	dir := filepath.Join(
		s.root(),
		fmt.Sprintf("%04d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()),
	)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.Marshal(Snapshot{Timestamp: now, Venues: venues})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.json", StorageTypeLearnerSnapshot, now.Format("20060102_150405.000000"))
	if s.config.CompressionEnabled {
		filename += ".gz"
	}
	path := filepath.Join(dir, filename)
	tmp := path + ".tmp"

	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	var w io.Writer = file
	var gz *gzip.Writer
	if s.config.CompressionEnabled {
		gz = gzip.NewWriter(file)
		w = gz
	}
	if _, err = w.Write(data); err == nil && gz != nil {
		err = gz.Close()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalise snapshot: %w", err)
	}

	s.logger.WithFields(logrus.Fields{"path": path, "venues": len(venues)}).Debug("Snapshot written")
	return nil
}

// LoadSnapshot reads the newest snapshot. It returns nil when none exists.
func (s *FileStore) LoadSnapshot(_ context.Context) (map[string]*types.VenuePerformance, error) {
	files, err := s.snapshotFiles()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	latest := files[len(files)-1]

	r, closeFn, err := openFile(latest)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", latest, err)
	}
	return snap.Venues, nil
}

// CleanupOldFiles removes snapshots older than the retention period and
// returns how many were removed
func (s *FileStore) CleanupOldFiles() (int, error) {
	if s.config.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := s.now().AddDate(0, 0, -s.config.RetentionDays)

	files, err := s.snapshotFiles()
	if err != nil {
		return 0, err
	}
	removed := 0
	// never remove the newest snapshot
	for _, path := range files[:max(len(files)-1, 0)] {
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("Failed to remove old snapshot")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.WithField("removed", removed).Info("Old snapshots removed")
	}
	return removed, nil
}

// snapshotFiles lists snapshot files oldest first
func (s *FileStore) snapshotFiles() ([]string, error) {
	var files []string
	err := filepath.Walk(s.root(), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".json.gz") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	sort.Slice(files, func(i, j int) bool {
		return filepath.Base(files[i]) < filepath.Base(files[j])
	})
	return files, nil
}

func openFile(path string) (io.Reader, func(), error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if !strings.HasSuffix(path, ".gz") {
		return file, func() { file.Close() }, nil
	}
	gz, err := gzip.NewReader(file)
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("failed to open gzip reader: %w", err)
	}
	return gz, func() {
		gz.Close()
		file.Close()
	}, nil
}
