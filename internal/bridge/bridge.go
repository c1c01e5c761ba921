// Package bridge carries "feed changed" signals from the API process to
// the broadcast server over a single long-lived websocket. Delivery is
// best-effort: callers never block and never see a failure.
package bridge

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/feedwire/feedwire/internal/broadcast"
)

// Config bounds the outbound connection's behavior.
type Config struct {
	URL         string // ws URL of the broadcast server's submit endpoint
	QueueSize   int
	DialTimeout time.Duration
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

type notification struct {
	name    string
	payload any
}

// Bridge owns the outbound connection. One manage goroutine dials and
// redials; a single sender goroutine performs all writes, fed by a
// bounded queue. Notify hands off to that queue and returns immediately.
type Bridge struct {
	cfg       Config
	logger    *zap.Logger
	queue     chan notification
	connected atomic.Bool
	dropped   atomic.Int64
}

func New(cfg Config, logger *zap.Logger) *Bridge {
	cfg = cfg.withDefaults()
	return &Bridge{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan notification, cfg.QueueSize),
	}
}

// Start launches the connection manager. It returns immediately; the
// bridge connects in the background and keeps reconnecting until the
// context is cancelled.
func (b *Bridge) Start(ctx context.Context) {
	go b.run(ctx)
}

// Connected reports whether the outbound link is currently up.
func (b *Bridge) Connected() bool {
	return b.connected.Load()
}

// Dropped reports how many notifications have been discarded.
func (b *Bridge) Dropped() int64 {
	return b.dropped.Load()
}

// Notify queues an event for the broadcast server. It never blocks and
// never fails: with the link down or the queue full the event is dropped
// with a warning. The caller's request has usually already been answered
// by the time anything here could go wrong.
func (b *Bridge) Notify(name string, payload any) {
	if !b.connected.Load() {
		b.dropped.Add(1)
		b.logger.Warn("broadcast link down, dropping event", zap.String("event", name))
		return
	}

	select {
	case b.queue <- notification{name: name, payload: payload}:
	default:
		b.dropped.Add(1)
		b.logger.Warn("notification queue full, dropping event", zap.String("event", name))
	}
}

func (b *Bridge) run(ctx context.Context) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	backoff := b.cfg.MinBackoff

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		b.logger.Info("connecting to broadcast server", zap.String("url", b.cfg.URL))

		dialCtx, cancel := context.WithTimeout(ctx, b.cfg.DialTimeout)
		conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, b.cfg.URL, nil)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("broadcast server unreachable",
				zap.Error(err),
				zap.Duration("retryIn", backoff),
			)
			if !sleepCtx(ctx, jitter(backoff, rng)) {
				return
			}
			backoff = nextBackoff(backoff, b.cfg.MaxBackoff)
			continue
		}

		b.connected.Store(true)
		b.logger.Info("connected to broadcast server")
		connStart := time.Now()

		err = b.sendLoop(ctx, conn)

		b.connected.Store(false)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		b.logger.Warn("broadcast connection lost", zap.Error(err))

		// A connection that held for a while earns a fresh backoff.
		if time.Since(connStart) > 10*time.Second {
			backoff = b.cfg.MinBackoff
		} else {
			backoff = nextBackoff(backoff, b.cfg.MaxBackoff)
		}
		if !sleepCtx(ctx, jitter(backoff, rng)) {
			return
		}
	}
}

// sendLoop is the sole writer on the connection. It returns on the first
// I/O error or when the context is cancelled.
func (b *Bridge) sendLoop(ctx context.Context, conn *websocket.Conn) error {
	readErr := make(chan error, 1)
	go func() {
		// The server sends nothing meaningful on this stream; reading
		// surfaces peer closes and services control frames.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()

		case err := <-readErr:
			return err

		case n := <-b.queue:
			ev := broadcast.Event{Name: n.name}
			if n.payload != nil {
				data, err := json.Marshal(n.payload)
				if err != nil {
					b.dropped.Add(1)
					b.logger.Warn("failed to serialize event payload",
						zap.String("event", n.name),
						zap.Error(err),
					)
					continue
				}
				ev.Data = data
			}

			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				b.dropped.Add(1)
				b.logger.Warn("failed to send event",
					zap.String("event", n.name),
					zap.Error(err),
				)
				return err
			}
			b.logger.Debug("event sent", zap.String("event", n.name))
		}
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	n := cur * 2
	if n > max {
		n = max
	}
	return n
}

// jitter spreads reconnect attempts by +/-20%.
func jitter(d time.Duration, rng *rand.Rand) time.Duration {
	f := 1 + (rng.Float64()*2-1)*0.2
	return time.Duration(float64(d) * f)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
