// Package filex provides filesystem helpers for staging backup sources and
// swapping restored files into place without ever mutating a live file
// in-place.
package filex

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-retry"
)

// EnsureDir creates dir (and parents) if it does not exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return nil
}

// sourceChanged reports whether a file was modified between two stats.
// Size or mtime movement means a writer got in mid-copy and the staged
// bytes cannot be trusted.
func sourceChanged(orig, now os.FileInfo) bool {
	if now.ModTime().After(orig.ModTime()) {
		return true
	}
	if now.Size() != orig.Size() {
		return true
	}
	return false
}

func copyOnce(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}

	return out.Sync()
}

// CopyFile copies src to dst, retrying with exponential backoff when the
// source changes underneath the copy. It gives up after three attempts so a
// busy writer cannot stall a backup cycle indefinitely.
func CopyFile(ctx context.Context, src, dst string) error {
	orig, err := os.Stat(src)
	if err != nil {
		return err
	}

	b := retry.WithMaxRetries(2, retry.NewExponential(100*time.Millisecond))

	return retry.Do(ctx, b, func(ctx context.Context) error {
		now, err := os.Stat(src)
		if err != nil {
			return err
		}

		if sourceChanged(orig, now) {
			orig = now
			return retry.RetryableError(fmt.Errorf("source %s changed during copy", src))
		}

		if err := copyOnce(src, dst); err != nil {
			return retry.RetryableError(err)
		}

		// A write that landed while we were copying invalidates the result.
		after, err := os.Stat(src)
		if err != nil {
			return err
		}
		if sourceChanged(now, after) {
			orig = after
			return retry.RetryableError(fmt.Errorf("source %s changed during copy", src))
		}

		return nil
	})
}

// CopyTree recursively copies the tree rooted at src into dst. Regular
// files only; dst is created if missing.
func CopyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return EnsureDir(target)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return CopyFile(ctx, path, target)
	})
}

// AtomicWriteFile writes data to path by writing a temporary file in the
// same directory and renaming it over the target. A crash mid-write leaves
// either the old file or the new file, never a torn one.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s -> %s: %w", tmpName, path, err)
	}
	return nil
}

// AtomicReplaceFile copies src over dst via a temporary file in dst's
// directory plus a rename, so the replacement is atomic on the target
// filesystem.
func AtomicReplaceFile(ctx context.Context, src, dst string) error {
	dir := filepath.Dir(dst)

	tmp, err := os.CreateTemp(dir, filepath.Base(dst)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	_ = tmp.Close()

	if err := CopyFile(ctx, src, tmpName); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s -> %s: %w", tmpName, dst, err)
	}
	return nil
}
