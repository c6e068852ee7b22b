package monitor

import (
	"context"

	"github.com/psantana5/pfrun/pkg/api"
	"github.com/psantana5/pfrun/pkg/logging"
	"github.com/psantana5/pfrun/pkg/metrics"
	"github.com/psantana5/pfrun/pkg/stream"
)

// WebSocketSource subscribes to job logs over the backend's stream endpoint
type WebSocketSource struct {
	client  *api.Client
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewWebSocketSource reuses the client's base URL, credentials and TLS
// settings for the stream
func NewWebSocketSource(client *api.Client, logger *logging.Logger, m *metrics.Metrics) *WebSocketSource {
	if logger == nil {
		logger = logging.Discard()
	}
	return &WebSocketSource{client: client, logger: logger, metrics: m}
}

// Subscribe opens a fresh stream with an empty buffer
func (w *WebSocketSource) Subscribe(ctx context.Context, jobID string, onMessage func(string), onError func(error)) (LogSubscription, error) {
	s, err := stream.Dial(ctx, stream.Config{
		URL:       w.client.StreamURL(jobID),
		Header:    w.client.AuthHeader(),
		TLSConfig: w.client.TLSConfig(),
		OnMessage: onMessage,
		OnError:   onError,
		Logger:    w.logger.WithField("job_id", jobID),
		Metrics:   w.metrics,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}
