package shutdown

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownRunsInReverseOrder(t *testing.T) {
	g := New(time.Second, nil)
	var order []int

	for i := 0; i < 3; i++ {
		i := i
		g.Register(func(ctx context.Context) error {
			order = append(order, i)
			return nil
		})
	}

	require.NoError(t, g.Shutdown(context.Background()))
	assert.Equal(t, []int{2, 1, 0}, order)
}

func TestShutdownStopsAtFirstError(t *testing.T) {
	g := New(time.Second, nil)
	boom := errors.New("boom")
	var ran []int

	g.Register(func(ctx context.Context) error {
		ran = append(ran, 0)
		return nil
	})
	g.Register(func(ctx context.Context) error {
		ran = append(ran, 1)
		return boom
	})
	g.Register(func(ctx context.Context) error {
		ran = append(ran, 2)
		return nil
	})

	err := g.Shutdown(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []int{2, 1}, ran, "component 0's shutdown func must not run after component 1 fails")
}

func TestShutdownTimesOut(t *testing.T) {
	g := New(10*time.Millisecond, nil)
	block := make(chan struct{})
	g.Register(func(ctx context.Context) error {
		<-block // never closed: simulates a component that ignores its deadline
		return nil
	})

	err := g.Shutdown(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
}
