package job

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"

	fileutil "zplmerge/internal/file"
)

// JobStore keeps job status and merged documents for download while the
// process runs. Nothing is read back on startup.
type JobStore interface {
	SaveJob(ctx context.Context, j *Job) error
	SaveDocument(ctx context.Context, jobID string, doc []byte) (string, error)
	OpenDocument(ctx context.Context, jobID string) (io.ReadCloser, int64, error)
}

// fileStore implements JobStore on an afero filesystem under dataDir.
type fileStore struct {
	fs      afero.Fs
	dataDir string
}

func NewFileStore(fs afero.Fs, dataDir string) JobStore { //nolint:ireturn
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if dataDir == "" {
		dataDir = "data"
	}
	return &fileStore{fs: fs, dataDir: dataDir}
}

func (s *fileStore) jobDir(jobID string) string {
	return filepath.Join(s.dataDir, "jobs", jobID)
}

func (s *fileStore) statusPath(jobID string) string {
	return filepath.Join(s.jobDir(jobID), "status.json")
}

func (s *fileStore) documentPath(jobID string) string {
	return filepath.Join(s.jobDir(jobID), "labels.pdf")
}

func (s *fileStore) SaveJob(_ context.Context, j *Job) error {
	return fileutil.WriteJSONAtomic(s.fs, s.statusPath(j.ID), j) //nolint:wrapcheck
}

func (s *fileStore) SaveDocument(_ context.Context, jobID string, doc []byte) (string, error) {
	path := s.documentPath(jobID)
	if err := fileutil.WriteAtomic(s.fs, path, bytes.NewReader(doc)); err != nil {
		return "", fmt.Errorf("save document: %w", err)
	}
	return path, nil
}

func (s *fileStore) OpenDocument(_ context.Context, jobID string) (io.ReadCloser, int64, error) {
	path := s.documentPath(jobID)
	info, err := s.fs.Stat(path)
	if err != nil {
		return nil, 0, fmt.Errorf("stat document: %w", err)
	}
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open document: %w", err)
	}
	return f, info.Size(), nil
}
