package queue

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// silentBroker accepts TCP connections and never speaks AMQP, so every
// handshake stalls until the dial deadline.
func silentBroker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return "amqp://guest:guest@" + ln.Addr().String() + "/"
}

func TestPublish_DoesNotWaitForHungBroker(t *testing.T) {
	p := newPublisher(silentBroker(t), zap.NewNop(), 1)
	t.Cleanup(func() { _ = p.Close() })

	const callers = 5
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		took    []time.Duration
		dropped int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()

			start := time.Now()
			err := p.Publish(ctx, AuthEvent{Type: EventUserLoggedIn, UserID: uint64(i + 1)})
			elapsed := time.Since(start)

			mu.Lock()
			defer mu.Unlock()
			took = append(took, elapsed)
			if errors.Is(err, ErrEventDropped) {
				dropped++
			}
		}(i)
	}
	wg.Wait()

	for _, d := range took {
		require.Less(t, d, 500*time.Millisecond)
	}
	// one slot buffered plus at most one event held by the worker
	require.GreaterOrEqual(t, dropped, callers-2)
}

func TestPublish_AfterClose(t *testing.T) {
	p := newPublisher(silentBroker(t), zap.NewNop(), 4)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	require.ErrorIs(t, p.Publish(context.Background(), AuthEvent{Type: EventSessionLogout}), ErrPublisherClosed)
}

func TestPublish_CancelledContext(t *testing.T) {
	p := newPublisher(silentBroker(t), zap.NewNop(), 4)
	t.Cleanup(func() { _ = p.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Publish(ctx, AuthEvent{Type: EventSessionLogout}), context.Canceled)
}
