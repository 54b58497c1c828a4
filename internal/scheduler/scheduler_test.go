package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/ledgervault/internal/catalog"
	"github.com/dmitrijs2005/ledgervault/internal/common"
	"github.com/dmitrijs2005/ledgervault/internal/logging"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type fakeEngine struct {
	calls atomic.Int64
	err   error
}

func (f *fakeEngine) CreateBackup(context.Context) (*catalog.Snapshot, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &catalog.Snapshot{ID: 1}, nil
}

func TestStart_BadSchedule(t *testing.T) {
	s := New(testLogger(), &fakeEngine{}, "not a cron spec")
	assert.ErrorIs(t, s.Start(context.Background()), common.ErrConfigInvalid)
}

func TestStart_ValidSchedule(t *testing.T) {
	eng := &fakeEngine{}
	s := New(testLogger(), eng, "0 3 * * *")
	require.NoError(t, s.Start(context.Background()))
	<-s.Stop().Done()
	assert.Zero(t, eng.calls.Load())
}

func TestRunOnce(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"success", nil},
		{"busy engine skips", common.ErrBusy},
		{"failure logged not fatal", errors.New("capture failed")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			eng := &fakeEngine{err: tc.err}
			s := New(testLogger(), eng, "@daily")
			s.runOnce(context.Background())
			assert.Equal(t, int64(1), eng.calls.Load())
		})
	}
}
