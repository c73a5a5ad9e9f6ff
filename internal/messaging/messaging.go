// Package messaging delivers replies to chat users, splitting long bodies
// into provider-sized chunks.
package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/mapus/apubot/internal/observability"
)

const (
	DefaultChunkSize  = 1500
	DefaultChunkDelay = 2 * time.Second
)

type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// Split cuts body into pieces of at most size characters. Joining the pieces
// yields body again.
func Split(body string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	runes := []rune(body)
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

type Report struct {
	Chunks int
	Failed int
}

type Dispatcher struct {
	sender    Sender
	logger    *slog.Logger
	chunkSize int
	delay     time.Duration
	sleep     func(time.Duration)
}

type DispatcherOption func(*Dispatcher)

func WithSleep(sleep func(time.Duration)) DispatcherOption {
	return func(d *Dispatcher) { d.sleep = sleep }
}

func NewDispatcher(sender Sender, logger *slog.Logger, chunkSize int, delay time.Duration, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if delay < 0 {
		delay = 0
	}
	d := &Dispatcher{sender: sender, logger: logger, chunkSize: chunkSize, delay: delay, sleep: time.Sleep}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends body to the recipient. Once started it attempts every chunk
// even if ctx is cancelled; individual failures are logged and skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, to, body string) Report {
	ctx = context.WithoutCancel(ctx)
	chunks := []string{body}
	if len([]rune(body)) > d.chunkSize {
		chunks = Split(body, d.chunkSize)
	}

	report := Report{Chunks: len(chunks)}
	for i, chunk := range chunks {
		if i > 0 && d.delay > 0 {
			d.sleep(d.delay)
		}
		err := d.sender.Send(ctx, to, chunk)
		observability.IncrementOutboundMessage(err == nil)
		if err != nil {
			report.Failed++
			d.logger.ErrorContext(ctx, "message send failed",
				"to", to,
				"part", i+1,
				"parts", len(chunks),
				"error", err,
			)
			continue
		}
		d.logger.InfoContext(ctx, "message sent",
			"to", to,
			"part", i+1,
			"parts", len(chunks),
			"chars", len([]rune(chunk)),
		)
	}
	return report
}
