package pub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listsync/internal/types"
)

type stubPub struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (p *stubPub) Publish(_ context.Context, _ string, _ types.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

func (p *stubPub) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestFanoutReturnsPrimaryError(t *testing.T) {
	boom := errors.New("boom")
	primary := &stubPub{err: boom}
	f := NewFanout(primary)

	err := f.Publish(context.Background(), "default", types.ItemDeleted("default", "x"))
	assert.ErrorIs(t, err, boom)
}

func TestFanoutMirrorFailureNotSurfaced(t *testing.T) {
	primary := &stubPub{}
	mirror := &stubPub{err: errors.New("mirror down")}
	f := NewFanout(primary, mirror)

	err := f.Publish(context.Background(), "default", types.ItemDeleted("default", "x"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return mirror.callCount() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, primary.callCount())
}
