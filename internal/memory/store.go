package memory

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/goccy/go-json"
)

// ErrArchiveConflict is returned when the archive already holds a file at
// the destination. Archival never overwrites.
var ErrArchiveConflict = errors.New("archive destination already exists")

// DatedFile is a YYYY-MM-DD.md file found in a directory.
type DatedFile struct {
	Date time.Time
	Path string
}

func (f DatedFile) Name() string {
	return FormatDate(f.Date)
}

// MonthMarker records that every summary of a month was written. Archival
// of that month's files is gated on it.
type MonthMarker struct {
	Month       string    `json:"month"`
	Categories  []string  `json:"categories"`
	Files       int       `json:"files"`
	CompletedAt time.Time `json:"completedAt"`
}

// FileStore is the only component that touches the workspace on disk.
type FileStore struct {
	layout Layout
}

func NewFileStore(layout Layout) *FileStore {
	return &FileStore{layout: layout}
}

func (s *FileStore) Layout() Layout {
	return s.layout
}

// ReadDailyEntries parses the daily memory file for date. A missing file
// yields ErrNoInput.
func (s *FileStore) ReadDailyEntries(date string) ([]Entry, error) {
	data, err := os.ReadFile(s.layout.DailyFile(date))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("daily memory %s: %w", date, ErrNoInput)
		}
		return nil, fmt.Errorf("read daily memory %s: %w", date, err)
	}
	return ParseDailyEntries(date, string(data)), nil
}

func (s *FileStore) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (s *FileStore) WriteNeuronFile(folder, date string, data []byte) (string, error) {
	path := s.layout.NeuronFile(folder, date)
	if err := WriteFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// RemoveNeuronFile deletes the neuron file of folder for date. removed is
// false when there was none.
func (s *FileStore) RemoveNeuronFile(folder, date string) (removed bool, err error) {
	path := s.layout.NeuronFile(folder, date)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("remove neuron %s/%s: %w", folder, date, err)
	}
	return true, nil
}

// ReadSkillsIndex returns the procedural index, or nil when none exists yet.
func (s *FileStore) ReadSkillsIndex() ([]byte, error) {
	data, err := os.ReadFile(s.layout.SkillsIndex())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read skills index: %w", err)
	}
	return data, nil
}

func (s *FileStore) WriteSkillsIndex(data []byte) (string, error) {
	path := s.layout.SkillsIndex()
	if err := WriteFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func (s *FileStore) WriteDigest(date string, data []byte) (string, error) {
	path := s.layout.DigestFile(date)
	if err := WriteFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func (s *FileStore) WriteMonthly(folder, month string, data []byte) (string, error) {
	path := s.layout.MonthlyFile(folder, month)
	if err := WriteFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// ReadMarker returns the completion marker of month, or nil if the month
// has not been summarised.
func (s *FileStore) ReadMarker(month string) (*MonthMarker, error) {
	data, err := os.ReadFile(s.layout.MarkerFile(month))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read marker %s: %w", month, err)
	}
	var m MonthMarker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse marker %s: %w", month, err)
	}
	return &m, nil
}

func (s *FileStore) WriteMarker(m MonthMarker) (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal marker: %w", err)
	}
	path := s.layout.MarkerFile(m.Month)
	if err := WriteFileAtomic(path, append(data, '\n')); err != nil {
		return "", err
	}
	return path, nil
}

// ListDated returns the dated files directly inside dir, oldest first.
// A missing directory is empty.
func (s *FileStore) ListDated(dir string) ([]DatedFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	files := make([]DatedFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		date, ok := DateFromName(e.Name())
		if !ok {
			continue
		}
		files = append(files, DatedFile{Date: date, Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Date.Before(files[j].Date)
	})
	return files, nil
}

// ListSubdirs returns the names of directories directly inside dir, sorted.
func (s *FileStore) ListSubdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// MoveToArchive relocates path under the archive root, keeping its path
// relative to the workspace. The file is moved, never copied and kept.
func (s *FileStore) MoveToArchive(path string) (string, error) {
	dst, err := s.layout.ArchivePath(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(dst); err == nil {
		return "", fmt.Errorf("archive %s: %w", dst, ErrArchiveConflict)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	if err := os.Rename(path, dst); err != nil {
		if !errors.Is(err, syscall.EXDEV) {
			return "", fmt.Errorf("move %s to archive: %w", path, err)
		}
		if err := copyThenRemove(path, dst); err != nil {
			return "", err
		}
	}
	return dst, nil
}

// copyThenRemove completes a move across filesystems.
func copyThenRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	data, err := io.ReadAll(in)
	_ = in.Close()
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if err := WriteFileAtomic(dst, data); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove %s after copy: %w", src, err)
	}
	return nil
}
