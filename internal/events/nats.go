package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSConfig configures the NATS publisher.
type NATSConfig struct {
	// NATS server URL(s), comma-separated
	URL string
	// Stream name for dial events
	StreamName string
	// Async buffer size (default: 10000)
	AsyncBufferSize int
	// Connection timeout
	ConnectTimeout time.Duration
	// Reconnect settings
	MaxReconnects int
	ReconnectWait time.Duration
	// Auth
	CredsFile string
	Token     string
	User      string
	Password  string
}

// DefaultNATSConfig returns defaults for dial event streams.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:             nats.DefaultURL,
		StreamName:      "DIALER_CALLS",
		AsyncBufferSize: 10000,
		ConnectTimeout:  5 * time.Second,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
	}
}

// StreamConfig returns the JetStream stream holding dial events.
func StreamConfig(name string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        name,
		Subjects:    []string{PatternAllCalls},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  5 * time.Minute,
		Discard:     jetstream.DiscardOld,
		AllowRollup: true,
	}
}

// NATSPublisher publishes events to NATS JetStream.
type NATSPublisher struct {
	js     jetstream.JetStream
	conn   *nats.Conn
	logger *slog.Logger

	asyncCh chan Event
	pending sync.WaitGroup
	done    sync.WaitGroup

	closedMu sync.RWMutex
	closed   bool

	mu           sync.Mutex
	publishCount int64
	errorCount   int64
	asyncDropped int64
}

// NewNATSPublisher connects to NATS and ensures the stream exists.
func NewNATSPublisher(ctx context.Context, cfg NATSConfig, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultNATSConfig()
	if cfg.StreamName == "" {
		cfg.StreamName = def.StreamName
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = def.ReconnectWait
	}

	opts := []nats.Option{
		nats.Name("dialer-events"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("[Events] NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("[Events] NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	switch {
	case cfg.CredsFile != "":
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	case cfg.Token != "":
		opts = append(opts, nats.Token(cfg.Token))
	case cfg.User != "":
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := js.CreateOrUpdateStream(streamCtx, StreamConfig(cfg.StreamName)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	bufSize := cfg.AsyncBufferSize
	if bufSize <= 0 {
		bufSize = def.AsyncBufferSize
	}

	p := &NATSPublisher{
		js:      js,
		conn:    conn,
		logger:  logger,
		asyncCh: make(chan Event, bufSize),
	}
	p.done.Add(1)
	go p.asyncPublisher()

	logger.Info("[Events] NATS publisher initialized",
		"url", cfg.URL,
		"stream", cfg.StreamName,
	)
	return p, nil
}

func (p *NATSPublisher) asyncPublisher() {
	defer p.done.Done()
	for event := range p.asyncCh {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.Publish(ctx, event); err != nil {
			p.logger.Warn("[Events] Async publish failed",
				"error", err,
				"type", event.Type(),
				"call_sid", event.CallID(),
			)
		}
		cancel()
		p.pending.Done()
	}
}

func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := event.Subject()
	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID()))
	if err != nil {
		p.mu.Lock()
		p.errorCount++
		p.mu.Unlock()
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	p.mu.Lock()
	p.publishCount++
	p.mu.Unlock()

	p.logger.Debug("[Events] Published",
		"subject", subject,
		"stream", ack.Stream,
		"seq", ack.Sequence,
	)
	return nil
}

func (p *NATSPublisher) PublishAsync(event Event) {
	p.closedMu.RLock()
	defer p.closedMu.RUnlock()
	if p.closed {
		return
	}

	p.pending.Add(1)
	select {
	case p.asyncCh <- event:
	default:
		p.pending.Done()
		p.mu.Lock()
		p.asyncDropped++
		p.mu.Unlock()
		p.logger.Warn("[Events] Async buffer full, event dropped",
			"type", event.Type(),
			"call_sid", event.CallID(),
		)
	}
}

// Flush waits for queued async events, then flushes the connection.
func (p *NATSPublisher) Flush(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.conn.FlushWithContext(ctx)
}

func (p *NATSPublisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.Flush(ctx); err != nil {
		p.logger.Warn("[Events] Flush failed during close", "error", err)
	}

	p.closedMu.Lock()
	if !p.closed {
		p.closed = true
		close(p.asyncCh)
	}
	p.closedMu.Unlock()
	p.done.Wait()

	p.conn.Close()
	return nil
}

// Stats returns publish counters.
func (p *NATSPublisher) Stats() (published, failed, asyncDropped int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.publishCount, p.errorCount, p.asyncDropped
}
