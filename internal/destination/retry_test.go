package destination

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrijs2005/ledgervault/internal/common"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
}

func TestRetryPolicy_RetriesUnreachable(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: connection reset", common.ErrDestinationUnreachable)
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_BoundedAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fmt.Errorf("%w: still down", common.ErrDestinationUnreachable)
	})

	assert.ErrorIs(t, err, common.ErrDestinationUnreachable)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_NoRetryOnRejection(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fmt.Errorf("%w: access denied", common.ErrDestinationRejected)
	})

	assert.ErrorIs(t, err, common.ErrDestinationRejected)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_NoRetryOnChecksumMismatch(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return common.ErrChecksumMismatch
	})

	assert.ErrorIs(t, err, common.ErrChecksumMismatch)
	assert.Equal(t, 1, calls)
}
