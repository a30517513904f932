package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("broadcast: broadcaster closed")

// Transport moves opaque frames between processes. Implementations start
// their delivery machinery at construction and stop it on Close, after which
// the Receive channel is closed.
type Transport interface {
	// Send delivers one frame to every other live participant. A send
	// failure means peers miss this message; it is never retried.
	Send(ctx context.Context, data []byte) error

	// Receive yields frames sent by other participants. Own frames may
	// appear here depending on the transport; the Broadcaster filters them.
	Receive() <-chan []byte

	Close() error
}

// Broadcaster publishes messages to sibling processes and fans received
// messages out to local subscribers. One Broadcaster per process.
type Broadcaster struct {
	transport Transport
	senderID  string
	logger    *slog.Logger
	nowFunc   func() time.Time

	mu      sync.Mutex
	subs    map[int]func(Message)
	nextSub int
	closed  bool
}

// New creates a Broadcaster over the given transport. senderID distinguishes
// this process; pass empty to generate one.
func New(transport Transport, senderID string, logger *slog.Logger) *Broadcaster {
	if senderID == "" {
		senderID = uuid.NewString()
	}

	return &Broadcaster{
		transport: transport,
		senderID:  senderID,
		logger:    logger,
		nowFunc:   time.Now,
		subs:      make(map[int]func(Message)),
	}
}

// SenderID returns this process's sender identifier.
func (b *Broadcaster) SenderID() string {
	return b.senderID
}

// Publish stamps the message with this sender and the current time, then
// hands it to the transport. Validation failures are programming errors and
// are returned; transport failures are logged and swallowed since delivery
// is best-effort.
func (b *Broadcaster) Publish(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return ErrClosed
	}

	msg.Sender = b.senderID
	msg.SentAt = b.nowFunc().UnixNano()

	data, err := encode(msg)
	if err != nil {
		return err
	}

	if err := b.transport.Send(ctx, data); err != nil {
		b.logger.Warn("broadcast send failed",
			slog.String("type", msg.Type),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

// Subscribe registers fn for every message received from other processes.
// fn runs on the pump goroutine and must return quickly. The returned
// function removes the subscription; calling it more than once is harmless.
func (b *Broadcaster) Subscribe(fn func(Message)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Run pumps the transport's receive channel into subscribers until ctx is
// canceled or the transport closes. Publish-only processes never call Run.
func (b *Broadcaster) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case data, ok := <-b.transport.Receive():
			if !ok {
				return nil
			}

			b.dispatch(data)
		}
	}
}

// dispatch decodes one frame, drops own and malformed messages, and invokes
// every subscriber.
func (b *Broadcaster) dispatch(data []byte) {
	msg, err := decode(data)
	if err != nil {
		b.logger.Warn("dropping malformed broadcast frame", slog.String("error", err.Error()))
		return
	}

	if msg.Sender == b.senderID {
		return
	}

	if err := msg.Validate(); err != nil {
		b.logger.Debug("dropping broadcast message", slog.String("error", err.Error()))
		return
	}

	b.mu.Lock()
	fns := make([]func(Message), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(msg)
	}
}

// Close shuts down the transport. Idempotent.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}

	b.closed = true
	b.mu.Unlock()

	return b.transport.Close()
}
