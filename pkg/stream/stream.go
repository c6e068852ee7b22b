package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/psantana5/pfrun/pkg/logging"
	"github.com/psantana5/pfrun/pkg/metrics"
)

// ErrStreamFailed is reported when the log stream breaks for any reason
// other than a local Close or a normal close from the server
var ErrStreamFailed = errors.New("WebSocket error while streaming logs")

// DefaultHandshakeTimeout bounds the WebSocket opening handshake
const DefaultHandshakeTimeout = 10 * time.Second

// Config describes one log stream subscription
type Config struct {
	URL              string
	Header           http.Header
	TLSConfig        *tls.Config
	HandshakeTimeout time.Duration

	// OnMessage is called for every inbound chunk after it is buffered
	OnMessage func(chunk string)
	// OnError is called at most once, when the stream fails
	OnError func(err error)

	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// Stream consumes a job's live log over a WebSocket. There is no
// reconnection: once the stream ends, a new subscription is needed.
type Stream struct {
	conn   *websocket.Conn
	buf    *Buffer
	cfg    Config
	logger *logging.Logger

	mu      sync.Mutex
	closing bool
	once    sync.Once
	done    chan struct{}
}

// Dial opens the stream and starts reading in the background. A failed dial
// is returned as an error wrapping ErrStreamFailed; OnError is not called.
func Dial(ctx context.Context, cfg Config) (*Stream, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
		TLSClientConfig:  cfg.TLSConfig,
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			err = fmt.Errorf("handshake status %d: %w", resp.StatusCode, err)
		}
		cfg.Metrics.IncStreamError()
		return nil, fmt.Errorf("%w: %v", ErrStreamFailed, err)
	}

	s := &Stream{
		conn:   conn,
		buf:    &Buffer{},
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
	logger.Debug("Log stream connected", map[string]interface{}{"url": cfg.URL})

	go s.readLoop()
	return s, nil
}

// Buffer returns the text received so far
func (s *Stream) Buffer() *Buffer {
	return s.buf
}

// Done is closed when the read loop exits
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Close shuts the connection unconditionally. Safe to call more than once
// and after the stream has already ended.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	var err error
	s.once.Do(func() {
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func (s *Stream) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Stream) readLoop() {
	defer close(s.done)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}

		chunk := string(data)
		s.buf.Append(chunk)
		s.cfg.Metrics.AddStreamMessage(len(data))
		if s.cfg.OnMessage != nil && !s.isClosing() {
			s.cfg.OnMessage(chunk)
		}
	}
}

func (s *Stream) finish(err error) {
	if s.isClosing() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		s.logger.Debug("Log stream closed by server")
		return
	}

	s.logger.Warn("Log stream failed", map[string]interface{}{"error": err.Error()})
	s.cfg.Metrics.IncStreamError()
	if s.cfg.OnError != nil {
		s.cfg.OnError(fmt.Errorf("%w: %v", ErrStreamFailed, err))
	}
}
