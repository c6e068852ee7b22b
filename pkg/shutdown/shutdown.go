package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/pfrun/pkg/logging"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// Manager handles graceful shutdown
type Manager struct {
	hooks    []hook
	mu       sync.Mutex
	timeout  time.Duration
	logger   *logging.Logger
	doneChan chan struct{}
	once     sync.Once
	ran      bool
	stopSig  func()
}

// New creates a new shutdown manager
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		timeout:  timeout,
		logger:   logger,
		doneChan: make(chan struct{}),
	}
}

// Register adds a named shutdown function.
// Functions are called in reverse order (LIFO)
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Notify starts watching SIGINT and SIGTERM. The first signal closes Done.
func (m *Manager) Notify() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	stop := make(chan struct{})

	m.mu.Lock()
	m.stopSig = func() {
		signal.Stop(sigChan)
		close(stop)
	}
	m.mu.Unlock()

	go func() {
		select {
		case sig := <-sigChan:
			m.Trigger(fmt.Sprintf("received signal: %v", sig))
		case <-stop:
		}
	}()
}

// Trigger initiates shutdown without a signal
func (m *Manager) Trigger(reason string) {
	m.once.Do(func() {
		m.logger.Info("Initiating graceful shutdown", map[string]interface{}{"reason": reason})
		close(m.doneChan)
	})
}

// Done returns a channel that is closed when shutdown is initiated
func (m *Manager) Done() <-chan struct{} {
	return m.doneChan
}

// Shutdown executes all registered shutdown functions once. Later calls
// return nil.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ran {
		return nil
	}
	m.ran = true
	if m.stopSig != nil {
		m.stopSig()
	}
	m.once.Do(func() { close(m.doneChan) })

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var errs []error
	for i := len(m.hooks) - 1; i >= 0; i-- {
		h := m.hooks[i]
		if err := h.fn(ctx); err != nil {
			m.logger.Warn("Shutdown step failed", map[string]interface{}{
				"step":  h.name,
				"error": err.Error(),
			})
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		m.logger.Debug("Shutdown step complete", map[string]interface{}{"step": h.name})
	}
	return errors.Join(errs...)
}

// WaitWithContext blocks until shutdown is initiated or ctx ends, then
// runs the shutdown functions
func (m *Manager) WaitWithContext(ctx context.Context) error {
	select {
	case <-m.doneChan:
	case <-ctx.Done():
	}
	return m.Shutdown()
}

// StopHTTPServer creates a shutdown function for http.Server
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
		return nil
	}
}

// CloseResource creates a shutdown function for io.Closer
func CloseResource(closer interface{ Close() error }) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("failed to close: %w", err)
		}
		return nil
	}
}
