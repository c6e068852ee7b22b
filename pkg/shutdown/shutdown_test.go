package shutdown

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownRunsLIFO(t *testing.T) {
	m := New(time.Second, nil)
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		m.Register(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, m.Shutdown())
	assert.Equal(t, []string{"third", "second", "first"}, order)

	select {
	case <-m.Done():
	default:
		t.Fatal("Done should be closed after Shutdown")
	}

	require.NoError(t, m.Shutdown())
	assert.Len(t, order, 3, "shutdown functions run once")
}

func TestShutdownCollectsErrors(t *testing.T) {
	m := New(time.Second, nil)
	boom := errors.New("boom")
	ran := false
	m.Register("ok", func(ctx context.Context) error { ran = true; return nil })
	m.Register("bad", func(ctx context.Context) error { return boom })

	err := m.Shutdown()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.True(t, ran, "a failing step does not stop the rest")
}

func TestShutdownContextHasTimeout(t *testing.T) {
	m := New(50*time.Millisecond, nil)
	m.Register("slow", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, m.Shutdown(), context.DeadlineExceeded)
}

func TestTriggerAndWait(t *testing.T) {
	m := New(time.Second, nil)
	called := make(chan struct{})
	m.Register("hook", func(ctx context.Context) error {
		close(called)
		return nil
	})

	m.Trigger("test")
	m.Trigger("again")
	require.NoError(t, m.WaitWithContext(context.Background()))
	<-called
}

func TestWaitWithContextCancel(t *testing.T) {
	m := New(time.Second, nil)
	ran := false
	m.Register("hook", func(ctx context.Context) error { ran = true; return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, m.WaitWithContext(ctx))
	assert.True(t, ran)
}

func TestNotifyStopsOnShutdown(t *testing.T) {
	m := New(time.Second, nil)
	m.Notify()
	require.NoError(t, m.Shutdown())
}

func TestStopHTTPServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	fn := StopHTTPServer(srv.Config)
	assert.NoError(t, fn(context.Background()))
}

type closer struct{ err error }

func (c closer) Close() error { return c.err }

func TestCloseResource(t *testing.T) {
	assert.NoError(t, CloseResource(closer{})(context.Background()))
	err := CloseResource(closer{err: errors.New("nope")})(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to close")
}
