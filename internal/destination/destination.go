// Package destination defines the storage-backend capability used to hold
// archive blobs, and its implementations (local channel-store directory,
// S3-compatible cloud store).
//
// Adapters own nothing persistent beyond the bytes they are told to store.
// Transport-level failures surface as common.ErrDestinationUnreachable,
// auth/quota failures as common.ErrDestinationRejected, so the orchestrator
// can decide whether to retry or escalate.
package destination

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/ledgervault/internal/common"
)

// Object is one stored blob as reported by List.
type Object struct {
	Ref       string
	SizeBytes int64
}

// Adapter is the capability interface implemented per backend. Upload must
// be idempotent under retry: re-uploading the same label overwrites cleanly
// or returns the existing ref, never a duplicate-but-inconsistent object.
type Adapter interface {
	// Name identifies the configured destination in logs and events.
	Name() string

	// Upload stores the file at blobPath under label and returns the
	// destination ref.
	Upload(ctx context.Context, label, blobPath string) (string, error)

	// Download fetches the blob for ref.
	Download(ctx context.Context, ref string) ([]byte, error)

	// List enumerates stored blobs. Finite, restartable from the
	// beginning only.
	List(ctx context.Context) ([]Object, error)

	// Delete removes the blob for ref. Deleting a ref that does not
	// exist is not an error.
	Delete(ctx context.Context, ref string) error
}

// RetryPolicy is the explicit bounded-retry policy applied to
// network-facing calls: max attempts, base delay, exponential growth.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy bounds every destination call to 3 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
}

// Do runs fn under the policy. Only transport-level failures
// (common.ErrDestinationUnreachable) are retried; rejections and integrity
// errors surface immediately.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	b := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(p.BaseDelay))

	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isRetryable(err error) bool {
	return errors.Is(err, common.ErrDestinationUnreachable)
}
