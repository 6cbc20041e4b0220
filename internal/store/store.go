// Package store keeps users, repositories and tags in a directory tree.
//
// Layout below the store root:
//
//	<user>/user.json
//	<user>/repos/<repo>/tags/<tag>
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/wolfeidau/drawbridge/internal/telemetry"
)

// Sentinel errors for common error conditions
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidName   = errors.New("invalid name")
)

const (
	userRecordFile = "user.json"
	reposDir       = "repos"
	tagsDir        = "tags"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidName reports whether s may be used as a user, repository or tag name.
func ValidName(s string) bool {
	return namePattern.MatchString(s)
}

// UserRecord binds a user name to the OIDC subject that owns it.
type UserRecord struct {
	Subject string `json:"subject"`
}

// Store is a directory-backed store.
type Store struct {
	fs afero.Fs
}

// New returns a store rooted at the root of fs.
func New(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

// Open returns a store rooted at path, which must be an existing directory.
func Open(path string) (*Store, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("failed to open store: %s is not a directory", path)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), path)), nil
}

// CreateUser registers user with its record. It fails with ErrAlreadyExists
// if the user is already registered. A failed write leaves no record behind.
func (s *Store) CreateUser(ctx context.Context, user string, rec UserRecord) error {
	if err := validate(user); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal user record: %w", err)
	}

	_, err = s.fs.Stat(user)
	createdDir := errors.Is(err, os.ErrNotExist)

	if err := s.fs.MkdirAll(user, 0o755); err != nil {
		return fmt.Errorf("failed to create user directory: %w", err)
	}

	path := filepath.Join(user, userRecordFile)
	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if createdDir && !errors.Is(err, os.ErrExist) {
			_ = s.fs.Remove(user)
		}
		return mapErr(err)
	}

	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// O_EXCL above means the record and, when createdDir, the directory
		// belong to this call only.
		_ = s.fs.Remove(path)
		if createdDir {
			_ = s.fs.Remove(user)
		}
		return fmt.Errorf("failed to write user record: %w", err)
	}
	return nil
}

// GetUser returns the record of user.
func (s *Store) GetUser(ctx context.Context, user string) (*UserRecord, error) {
	if err := validate(user); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, filepath.Join(user, userRecordFile))
	if err != nil {
		return nil, mapErr(err)
	}

	var rec UserRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user record: %w", err)
	}
	return &rec, nil
}

// CreateRepository creates repo owned by user. The user must exist.
func (s *Store) CreateRepository(ctx context.Context, user, repo string) error {
	if err := validate(user, repo); err != nil {
		return err
	}
	if _, err := s.GetUser(ctx, user); err != nil {
		return err
	}

	if err := s.fs.MkdirAll(filepath.Join(user, reposDir), 0o755); err != nil {
		return fmt.Errorf("failed to create repository directory: %w", err)
	}
	if err := s.fs.Mkdir(repoPath(user, repo), 0o755); err != nil {
		return mapErr(err)
	}
	if err := s.fs.Mkdir(filepath.Join(repoPath(user, repo), tagsDir), 0o755); err != nil {
		return fmt.Errorf("failed to create tags directory: %w", err)
	}
	return nil
}

// StatRepository returns ErrNotFound unless repo exists under user.
func (s *Store) StatRepository(ctx context.Context, user, repo string) error {
	if err := validate(user, repo); err != nil {
		return err
	}

	info, err := s.fs.Stat(repoPath(user, repo))
	if err != nil {
		return mapErr(err)
	}
	if !info.IsDir() {
		return ErrNotFound
	}
	return nil
}

// ListTags returns the tag names of a repository in lexical order.
func (s *Store) ListTags(ctx context.Context, user, repo string) ([]string, error) {
	if err := s.StatRepository(ctx, user, repo); err != nil {
		return nil, err
	}

	entries, err := afero.ReadDir(s.fs, filepath.Join(repoPath(user, repo), tagsDir))
	if err != nil {
		return nil, mapErr(err)
	}

	tags := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !ValidName(e.Name()) {
			continue
		}
		tags = append(tags, e.Name())
	}
	return tags, nil
}

// PutTag stores the content of r as tag, replacing any previous content.
// Readers never observe a partially written tag.
func (s *Store) PutTag(ctx context.Context, user, repo, tag string, r io.Reader) (int64, error) {
	if err := validate(user, repo, tag); err != nil {
		return 0, err
	}
	if err := s.StatRepository(ctx, user, repo); err != nil {
		return 0, err
	}

	dir := filepath.Join(repoPath(user, repo), tagsDir)
	tmp := filepath.Join(dir, ".tmp-"+uuid.NewString())

	f, err := s.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary tag file: %w", err)
	}

	n, err := io.Copy(f, r)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.fs.Remove(tmp)
		return 0, fmt.Errorf("failed to write tag: %w", err)
	}

	if err := s.fs.Rename(tmp, filepath.Join(dir, tag)); err != nil {
		_ = s.fs.Remove(tmp)
		return 0, fmt.Errorf("failed to commit tag: %w", err)
	}

	telemetry.GetMetrics().TagsWritten.Add(ctx, 1)
	return n, nil
}

// GetTag opens tag for reading and returns its size. The caller closes the
// reader.
func (s *Store) GetTag(ctx context.Context, user, repo, tag string) (io.ReadCloser, int64, error) {
	if err := validate(user, repo, tag); err != nil {
		return nil, 0, err
	}

	f, err := s.fs.Open(filepath.Join(repoPath(user, repo), tagsDir, tag))
	if err != nil {
		return nil, 0, mapErr(err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("failed to stat tag: %w", err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, 0, ErrNotFound
	}

	telemetry.GetMetrics().TagsRead.Add(ctx, 1)
	return f, info.Size(), nil
}

func repoPath(user, repo string) string {
	return filepath.Join(user, reposDir, repo)
}

func validate(names ...string) error {
	for _, n := range names {
		if !ValidName(n) {
			return fmt.Errorf("%w: %q", ErrInvalidName, n)
		}
	}
	return nil
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, os.ErrExist):
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	default:
		return err
	}
}
