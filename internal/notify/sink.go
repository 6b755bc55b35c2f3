// Package notify delivers best-effort outbound alerts.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bcnelson/sid/internal/metrics"
	"golang.org/x/time/rate"
)

// Sink accepts a notification without blocking and without reporting
// whether it was delivered.
type Sink interface {
	Notify(message string)
}

// Nop discards every notification.
type Nop struct{}

// Notify implements Sink.
func (Nop) Notify(string) {}

// HTTPSink posts plain-text messages to an ntfy-compatible endpoint from a
// background worker fed by a bounded queue.
type HTTPSink struct {
	url     string
	title   string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	queue chan string
	done  chan struct{}
	once  sync.Once
}

// Options configures an HTTPSink.
type Options struct {
	URL       string
	Title     string
	PerSecond float64 // 0 means unlimited
	QueueSize int
	Client    *http.Client
	Logger    *slog.Logger
}

// New returns a Nop sink when no URL is configured, otherwise a started HTTPSink.
func New(opts Options) Sink {
	if opts.URL == "" {
		return Nop{}
	}
	return NewHTTPSink(opts)
}

// NewHTTPSink creates the sink and starts its worker. Call Close to stop it.
func NewHTTPSink(opts Options) *HTTPSink {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	limit := rate.Inf
	if opts.PerSecond > 0 {
		limit = rate.Limit(opts.PerSecond)
	}

	s := &HTTPSink{
		url:     opts.URL,
		title:   opts.Title,
		client:  opts.Client,
		limiter: rate.NewLimiter(limit, 1),
		logger:  opts.Logger,
		queue:   make(chan string, opts.QueueSize),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Notify enqueues message. When the queue is full the message is dropped.
func (s *HTTPSink) Notify(message string) {
	select {
	case <-s.done:
		metrics.NotificationDropped("closed")
		return
	default:
	}

	select {
	case s.queue <- message:
	default:
		metrics.NotificationDropped("queue_full")
		s.logger.Warn("Notification queue full, dropping message", "message", message)
	}
}

// Close stops the worker after the queued messages are attempted or ctx ends.
func (s *HTTPSink) Close(ctx context.Context) {
	s.once.Do(func() { close(s.done) })
	for {
		select {
		case msg := <-s.queue:
			s.deliver(ctx, msg)
		default:
			return
		}
	}
}

func (s *HTTPSink) run() {
	ctx := context.Background()
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.queue:
			if err := s.limiter.Wait(ctx); err != nil {
				metrics.NotificationDropped("rate_limited")
				continue
			}
			s.deliver(ctx, msg)
		}
	}
}

func (s *HTTPSink) deliver(ctx context.Context, message string) {
	if err := s.post(ctx, message); err != nil {
		metrics.NotificationDropped("delivery_failed")
		s.logger.Warn("Notification delivery failed", "error", err)
	}
}

func (s *HTTPSink) post(ctx context.Context, message string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if s.title != "" {
		req.Header.Set("Title", s.title)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %s", resp.Status)
	}
	return nil
}
