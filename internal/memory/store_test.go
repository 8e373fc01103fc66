package memory

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type FileStoreSuite struct {
	suite.Suite
	workspace string
	store     *FileStore
}

func TestFileStoreSuite(t *testing.T) {
	suite.Run(t, new(FileStoreSuite))
}

func (s *FileStoreSuite) SetupTest() {
	s.workspace = s.T().TempDir()
	s.store = NewFileStore(NewLayout(s.workspace, ""))
}

func (s *FileStoreSuite) write(rel, content string) string {
	path := filepath.Join(s.workspace, rel)
	s.Require().NoError(os.MkdirAll(filepath.Dir(path), 0755))
	s.Require().NoError(os.WriteFile(path, []byte(content), 0644))
	return path
}

func (s *FileStoreSuite) TestReadDailyEntries() {
	s.write("memory/2026-10-14.md", "- first entry\n- second entry\n")

	entries, err := s.store.ReadDailyEntries("2026-10-14")
	s.Require().NoError(err)
	s.Len(entries, 2)
}

func (s *FileStoreSuite) TestReadDailyEntries_Missing() {
	_, err := s.store.ReadDailyEntries("2026-10-14")
	s.Require().Error(err)
	s.True(errors.Is(err, ErrNoInput))
}

func (s *FileStoreSuite) TestWriteNeuronFile_Overwrites() {
	path, err := s.store.WriteNeuronFile("work", "2026-10-14", []byte("one"))
	s.Require().NoError(err)
	s.Equal(filepath.Join(s.workspace, "neurons", "work", "2026-10-14.md"), path)

	_, err = s.store.WriteNeuronFile("work", "2026-10-14", []byte("two"))
	s.Require().NoError(err)
	data, err := os.ReadFile(path)
	s.Require().NoError(err)
	s.Equal("two", string(data))

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	s.Require().NoError(err)
	s.Len(entries, 1)
}

func (s *FileStoreSuite) TestRemoveNeuronFile() {
	removed, err := s.store.RemoveNeuronFile("work", "2026-10-14")
	s.Require().NoError(err)
	s.False(removed)

	path := s.write("neurons/work/2026-10-14.md", "# stale\n")
	removed, err = s.store.RemoveNeuronFile("work", "2026-10-14")
	s.Require().NoError(err)
	s.True(removed)
	_, err = os.Stat(path)
	s.True(os.IsNotExist(err))
}

func (s *FileStoreSuite) TestSkillsIndex() {
	data, err := s.store.ReadSkillsIndex()
	s.Require().NoError(err)
	s.Nil(data)

	_, err = s.store.WriteSkillsIndex([]byte("# Skills & Tools\n"))
	s.Require().NoError(err)
	data, err = s.store.ReadSkillsIndex()
	s.Require().NoError(err)
	s.Equal("# Skills & Tools\n", string(data))
}

func (s *FileStoreSuite) TestListDated() {
	dir := filepath.Join(s.workspace, "neurons", "work")
	s.write("neurons/work/2026-10-14.md", "b")
	s.write("neurons/work/2026-09-30.md", "a")
	s.write("neurons/work/notes.md", "ignored")
	s.write("neurons/work/2026-13-01.md", "bad date")
	s.Require().NoError(os.MkdirAll(filepath.Join(dir, "2026-10-01.md"), 0755))

	files, err := s.store.ListDated(dir)
	s.Require().NoError(err)
	s.Require().Len(files, 2)
	s.Equal("2026-09-30", files[0].Name())
	s.Equal("2026-10-14", files[1].Name())

	missing, err := s.store.ListDated(filepath.Join(s.workspace, "nope"))
	s.NoError(err)
	s.Empty(missing)
}

func (s *FileStoreSuite) TestListSubdirs() {
	s.write("neurons/work/2026-10-14.md", "x")
	s.write("neurons/emotions/2026-10-14.md", "x")
	s.write("neurons/skills-tools.md", "x")

	dirs, err := s.store.ListSubdirs(filepath.Join(s.workspace, "neurons"))
	s.Require().NoError(err)
	s.Equal([]string{"emotions", "work"}, dirs)
}

func (s *FileStoreSuite) TestMarkerRoundTrip() {
	m, err := s.store.ReadMarker("2026-09")
	s.Require().NoError(err)
	s.Nil(m)

	completed := time.Date(2026, 10, 1, 4, 0, 0, 0, time.UTC)
	_, err = s.store.WriteMarker(MonthMarker{Month: "2026-09", Categories: []string{"work"}, Files: 3, CompletedAt: completed})
	s.Require().NoError(err)

	m, err = s.store.ReadMarker("2026-09")
	s.Require().NoError(err)
	s.Require().NotNil(m)
	s.Equal([]string{"work"}, m.Categories)
	s.Equal(3, m.Files)
	s.True(completed.Equal(m.CompletedAt))
}

func (s *FileStoreSuite) TestMoveToArchive() {
	src := s.write("neurons/work/2026-06-01.md", "old")

	dst, err := s.store.MoveToArchive(src)
	s.Require().NoError(err)
	s.Equal(filepath.Join(s.workspace, "memory", "archive", "neurons", "work", "2026-06-01.md"), dst)

	_, err = os.Stat(src)
	s.True(os.IsNotExist(err), "source must be gone after a move")
	data, err := os.ReadFile(dst)
	s.Require().NoError(err)
	s.Equal("old", string(data))
}

func (s *FileStoreSuite) TestMoveToArchive_NeverOverwrites() {
	src := s.write("memory/2026-06-01.md", "new")
	s.write("memory/archive/memory/2026-06-01.md", "already archived")

	_, err := s.store.MoveToArchive(src)
	s.Require().Error(err)
	s.True(errors.Is(err, ErrArchiveConflict))

	_, err = os.Stat(src)
	s.NoError(err, "source must stay when the move is refused")
}

func TestWriteFileAtomic_CreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c.md")
	require.NoError(t, WriteFileAtomic(path, []byte("hello")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}
