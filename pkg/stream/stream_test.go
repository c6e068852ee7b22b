package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// logServer sends chunks then finishes according to end
func logServer(t *testing.T, chunks []string, end func(conn *websocket.Conn)) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i, c := range chunks {
			mt := websocket.TextMessage
			if i%2 == 1 {
				mt = websocket.BinaryMessage
			}
			if err := conn.WriteMessage(mt, []byte(c)); err != nil {
				return
			}
		}
		end(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func normalClose(conn *websocket.Conn) {
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.ReadMessage()
}

func waitDone(t *testing.T, s *Stream) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not finish")
	}
}

type errRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *errRecorder) record(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *errRecorder) all() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func TestStreamAppendsInOrder(t *testing.T) {
	srv := logServer(t, []string{"Running step 1\n", "Running step 2\n", "Done\n"}, normalClose)

	var rec errRecorder
	var mu sync.Mutex
	var seen []string
	s, err := Dial(context.Background(), Config{
		URL: wsURL(srv),
		OnMessage: func(chunk string) {
			mu.Lock()
			seen = append(seen, chunk)
			mu.Unlock()
		},
		OnError: rec.record,
	})
	require.NoError(t, err)
	defer s.Close()

	waitDone(t, s)
	assert.Equal(t, "Running step 1\nRunning step 2\nDone\n", s.Buffer().String())
	assert.Equal(t, 3, s.Buffer().Chunks())
	mu.Lock()
	assert.Equal(t, []string{"Running step 1\n", "Running step 2\n", "Done\n"}, seen)
	mu.Unlock()
	assert.Empty(t, rec.all(), "normal close must not report an error")
}

func TestStreamKeepsDuplicates(t *testing.T) {
	srv := logServer(t, []string{"x", "x", ""}, normalClose)

	s, err := Dial(context.Background(), Config{URL: wsURL(srv)})
	require.NoError(t, err)
	defer s.Close()

	waitDone(t, s)
	assert.Equal(t, "xx", s.Buffer().String())
	assert.Equal(t, 3, s.Buffer().Chunks())
}

func TestStreamReportsOneError(t *testing.T) {
	srv := logServer(t, []string{"partial"}, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Job not found"))
	})

	var rec errRecorder
	s, err := Dial(context.Background(), Config{URL: wsURL(srv), OnError: rec.record})
	require.NoError(t, err)
	defer s.Close()

	waitDone(t, s)
	errs := rec.all()
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], ErrStreamFailed))
	assert.Equal(t, "partial", s.Buffer().String())
}

func TestStreamAbruptDisconnect(t *testing.T) {
	srv := logServer(t, nil, func(conn *websocket.Conn) {
		conn.UnderlyingConn().Close()
	})

	var rec errRecorder
	s, err := Dial(context.Background(), Config{URL: wsURL(srv), OnError: rec.record})
	require.NoError(t, err)
	defer s.Close()

	waitDone(t, s)
	assert.Len(t, rec.all(), 1)
}

func TestCloseIsSilent(t *testing.T) {
	release := make(chan struct{})
	srv := logServer(t, []string{"hello"}, func(conn *websocket.Conn) {
		<-release
	})
	defer close(release)

	var rec errRecorder
	got := make(chan struct{}, 1)
	s, err := Dial(context.Background(), Config{
		URL:       wsURL(srv),
		OnMessage: func(string) { got <- struct{}{} },
		OnError:   rec.record,
	})
	require.NoError(t, err)

	<-got
	require.NoError(t, s.Close())
	waitDone(t, s)

	assert.Empty(t, rec.all())
	assert.NotPanics(t, func() { s.Close() })
}

func TestDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	var rec errRecorder
	_, err := Dial(context.Background(), Config{URL: wsURL(srv), OnError: rec.record})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStreamFailed))
	assert.Contains(t, err.Error(), "404")
	assert.Empty(t, rec.all())
}

func TestDialSendsHeader(t *testing.T) {
	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		normalClose(conn)
		conn.Close()
	}))
	defer srv.Close()

	s, err := Dial(context.Background(), Config{
		URL:    wsURL(srv),
		Header: http.Header{"Authorization": []string{"Bearer k"}},
	})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "Bearer k", <-auth)
}

func TestBufferConcurrentAppend(t *testing.T) {
	var b Buffer
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Append("ab")
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, b.Len())
	assert.Equal(t, 10, b.Chunks())
}
