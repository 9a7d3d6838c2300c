// Package fileops copies, moves and deletes files on behalf of actions.
// Copies go through a temporary file in the destination directory and can be
// verified by comparing content digests.
package fileops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"

	"watchflow/internal/logging"
)

const (
	DefaultAttempts     = 5
	DefaultReadyTimeout = 10 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	DefaultRetryDelay   = 250 * time.Millisecond
)

var ErrVerifyMismatch = errors.New("destination digest does not match source")

// OpError records the operation and path that failed.
type OpError struct {
	Op   string
	Path string
	Err  error
}

func (err *OpError) Error() string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%s %s: %v", err.Op, err.Path, err.Err)
}

func (err *OpError) Unwrap() error {
	if err == nil {
		return nil
	}
	return err.Err
}

type Options struct {
	Verify         bool
	KeepTimestamps bool
}

type Service struct {
	Attempts     int
	ReadyTimeout time.Duration
	PollInterval time.Duration
	RetryDelay   time.Duration
	Logger       *logging.Logger
}

func New(logger *logging.Logger) *Service {
	return &Service{
		Attempts:     DefaultAttempts,
		ReadyTimeout: DefaultReadyTimeout,
		PollInterval: DefaultPollInterval,
		RetryDelay:   DefaultRetryDelay,
		Logger:       logger,
	}
}

// IsValid reports whether path can name a file: it is non-empty, contains no
// NUL byte and is absolute once cleaned.
func IsValid(path string) bool {
	if strings.TrimSpace(path) == "" || strings.ContainsRune(path, 0) {
		return false
	}
	return filepath.IsAbs(filepath.Clean(path))
}

// Copy copies src to dst. Directories are copied recursively. Each file is
// retried up to Attempts times when verification fails.
func (s *Service) Copy(ctx context.Context, src, dst string, options Options) error {
	if !IsValid(src) {
		return &OpError{Op: "copy", Path: src, Err: fs.ErrInvalid}
	}
	if !IsValid(dst) {
		return &OpError{Op: "copy", Path: dst, Err: fs.ErrInvalid}
	}
	info, err := s.waitReady(ctx, src)
	if err != nil {
		return &OpError{Op: "copy", Path: src, Err: err}
	}
	if !info.IsDir() {
		return s.copyFileWithRetry(ctx, src, dst, info, options)
	}
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return &OpError{Op: "copy", Path: path, Err: walkErr}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return &OpError{Op: "copy", Path: path, Err: err}
		}
		target := filepath.Join(dst, rel)
		entryInfo, err := entry.Info()
		if err != nil {
			return &OpError{Op: "copy", Path: path, Err: err}
		}
		if entry.IsDir() {
			if err := os.MkdirAll(target, entryInfo.Mode().Perm()|0o700); err != nil {
				return &OpError{Op: "mkdir", Path: target, Err: err}
			}
			return nil
		}
		if !entryInfo.Mode().IsRegular() {
			return nil
		}
		return s.copyFileWithRetry(ctx, path, target, entryInfo, options)
	})
}

// Move renames src to dst, falling back to a verified copy followed by a
// delete when the rename crosses filesystems.
func (s *Service) Move(ctx context.Context, src, dst string, options Options) error {
	if !IsValid(src) {
		return &OpError{Op: "move", Path: src, Err: fs.ErrInvalid}
	}
	if !IsValid(dst) {
		return &OpError{Op: "move", Path: dst, Err: fs.ErrInvalid}
	}
	if _, err := s.waitReady(ctx, src); err != nil {
		return &OpError{Op: "move", Path: src, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &OpError{Op: "mkdir", Path: filepath.Dir(dst), Err: err}
	}
	if err := os.Rename(src, dst); err == nil {
		s.logDebug("moved", map[string]string{"source": src, "destination": dst})
		return nil
	}
	options.Verify = true
	if err := s.Copy(ctx, src, dst, options); err != nil {
		return err
	}
	return s.Delete(src)
}

// Delete removes path and anything below it. A missing path is not an error.
func (s *Service) Delete(path string) error {
	if !IsValid(path) {
		return &OpError{Op: "delete", Path: path, Err: fs.ErrInvalid}
	}
	if err := os.RemoveAll(path); err != nil {
		return &OpError{Op: "delete", Path: path, Err: err}
	}
	s.logDebug("deleted", map[string]string{"path": path})
	return nil
}

func (s *Service) copyFileWithRetry(ctx context.Context, src, dst string, info fs.FileInfo, options Options) error {
	attempts := s.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := copyFile(src, dst, info, options)
		if err == nil {
			s.logDebug("copied", map[string]string{
				"source":      src,
				"destination": dst,
				"size":        humanize.Bytes(uint64(info.Size())),
				"attempt":     strconv.Itoa(attempt),
			})
			return nil
		}
		lastErr = err
		if !errors.Is(err, ErrVerifyMismatch) {
			break
		}
		if s.Logger != nil {
			s.Logger.Warn("copy verification failed", map[string]string{
				"source":  src,
				"attempt": strconv.Itoa(attempt),
			})
		}
		if err := sleep(ctx, s.RetryDelay); err != nil {
			return &OpError{Op: "copy", Path: src, Err: err}
		}
	}
	return &OpError{Op: "copy", Path: src, Err: lastErr}
}

func copyFile(src, dst string, info fs.FileInfo, options Options) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer source.Close()

	tmp, err := os.CreateTemp(dir, ".watchflow-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	hasher := xxhash.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), source); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, info.Mode().Perm()); err != nil {
		return err
	}
	if options.KeepTimestamps {
		if err := os.Chtimes(tmpPath, info.ModTime(), info.ModTime()); err != nil {
			return err
		}
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return err
	}
	success = true

	if !options.Verify {
		return nil
	}
	sourceSum, err := Digest(src)
	if err != nil {
		return err
	}
	if sourceSum != hasher.Sum64() {
		return ErrVerifyMismatch
	}
	destSum, err := Digest(dst)
	if err != nil {
		return err
	}
	if destSum != sourceSum {
		return ErrVerifyMismatch
	}
	return nil
}

// Digest returns the xxhash of the file at path.
func Digest(path string) (uint64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	hasher := xxhash.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return 0, err
	}
	return hasher.Sum64(), nil
}

// waitReady polls until path can be opened for reading or ReadyTimeout passes.
func (s *Service) waitReady(ctx context.Context, path string) (fs.FileInfo, error) {
	deadline := time.Now().Add(s.ReadyTimeout)
	for {
		info, err := readable(path)
		if err == nil {
			return info, nil
		}
		if errors.Is(err, fs.ErrNotExist) || !time.Now().Before(deadline) {
			return nil, err
		}
		if err := sleep(ctx, s.PollInterval); err != nil {
			return nil, err
		}
	}
}

func readable(path string) (fs.FileInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return file.Stat()
}

func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Service) logDebug(message string, fields map[string]string) {
	if s == nil || s.Logger == nil {
		return
	}
	s.Logger.Debug(message, fields)
}
