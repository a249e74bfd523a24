package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// flakySource delivers its batch on every connection and then drops it.
type flakySource struct {
	batch []domain.NewAssetLaunch
	conns atomic.Int64
}

func (s *flakySource) Stream(ctx context.Context, out chan<- domain.NewAssetLaunch) error {
	s.conns.Add(1)
	for _, l := range s.batch {
		select {
		case out <- l:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.New("connection reset by peer")
}

func launches(mints ...string) []domain.NewAssetLaunch {
	out := make([]domain.NewAssetLaunch, len(mints))
	for i, m := range mints {
		out[i] = domain.NewAssetLaunch{Mint: m, SeenAt: time.Now()}
	}
	return out
}

func TestLaunchFeedReconnectsAndDedups(t *testing.T) {
	src := &flakySource{batch: launches("a", "b", "a", "", "c")}
	f := NewLaunchFeed(src, 10, discard())
	f.retry = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	assert.Eventually(t, func() bool { return src.conns.Load() >= 3 && f.Len() == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	got := f.Drain()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].Mint, got[1].Mint, got[2].Mint})
	assert.Empty(t, f.Drain())
}

func TestLaunchFeedBufferKeepsNewest(t *testing.T) {
	f := NewLaunchFeed(&flakySource{}, 3, discard())
	for i := range 5 {
		f.add(domain.NewAssetLaunch{Mint: fmt.Sprintf("m%d", i)})
	}
	assert.Equal(t, 3, f.Len())
	assert.EqualValues(t, 2, f.Dropped())
	got := f.Drain()
	assert.Equal(t, "m2", got[0].Mint)
	assert.Equal(t, "m4", got[2].Mint)
}

func TestLaunchFeedSeenExpires(t *testing.T) {
	now := time.Now()
	f := NewLaunchFeed(&flakySource{}, 3, discard())
	f.now = func() time.Time { return now }

	f.add(domain.NewAssetLaunch{Mint: "x"})
	f.Drain()
	f.add(domain.NewAssetLaunch{Mint: "x"})
	assert.Zero(t, f.Len())

	now = now.Add(seenTTL)
	f.add(domain.NewAssetLaunch{Mint: "x"})
	assert.Equal(t, 1, f.Len())
}

func TestLaunchFeedClose(t *testing.T) {
	f := NewLaunchFeed(&flakySource{}, 3, discard())
	f.retry = time.Hour
	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background()) }()
	f.Close()
	f.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("feed did not stop")
	}
}
