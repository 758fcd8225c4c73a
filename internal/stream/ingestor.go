package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ticker-alerts/internal/market"
	"ticker-alerts/internal/metrics"
)

var (
	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("stream: ingestor already started")
	// ErrStopTimeout is returned when the receive loop outlives the stop timeout.
	ErrStopTimeout = errors.New("stream: receive loop did not exit in time")
)

// TickApplier receives every decoded tick.
type TickApplier interface {
	ApplyTick(t market.Tick)
}

// Options tune the websocket subscription.
type Options struct {
	BaseURL          string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	StopTimeout      time.Duration
	Reconnect        bool
	MaxBackoff       time.Duration
}

// Ingestor owns the websocket subscription and its receive loop.
type Ingestor struct {
	opts   Options
	store  TickApplier
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu      sync.Mutex
	started bool
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}

	stopOnce sync.Once
	stopErr  error
}

// NewIngestor builds an ingestor applying ticks to store.
func NewIngestor(opts Options, store TickApplier, logger zerolog.Logger) *Ingestor {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	return &Ingestor{
		opts:   opts,
		store:  store,
		dialer: &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		logger: logger.With().Str("component", "stream").Logger(),
	}
}

// Start subscribes to the symbols and runs the receive loop on its own
// goroutine. It does not wait for the connection to be established.
func (in *Ingestor) Start(ctx context.Context, symbols []string) error {
	endpoint, err := StreamURL(in.opts.BaseURL, symbols)
	if err != nil {
		return err
	}

	in.mu.Lock()
	if in.started {
		in.mu.Unlock()
		return ErrAlreadyStarted
	}
	loopCtx, cancel := context.WithCancel(ctx)
	in.started = true
	in.cancel = cancel
	in.done = make(chan struct{})
	done := in.done
	in.mu.Unlock()

	in.logger.Info().Int("symbols", len(symbols)).Str("url", endpoint).Msg("starting ticker subscription")
	go in.run(loopCtx, endpoint, done)
	return nil
}

// Done is closed once the receive loop has exited. It is nil before Start.
func (in *Ingestor) Done() <-chan struct{} {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.done
}

// Stop closes the subscription and waits, bounded by the stop timeout, for
// the receive loop to exit. Later calls return the first result.
// Stop before Start is a no-op and leaves the ingestor startable.
func (in *Ingestor) Stop() error {
	in.mu.Lock()
	started := in.started
	in.mu.Unlock()
	if !started {
		return nil
	}

	in.stopOnce.Do(func() {
		in.mu.Lock()
		in.cancel()
		conn := in.conn
		done := in.done
		in.mu.Unlock()

		if conn != nil {
			deadline := time.Now().Add(in.opts.StopTimeout / 2)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.Close()
		}

		timer := time.NewTimer(in.opts.StopTimeout)
		defer timer.Stop()
		select {
		case <-done:
			in.logger.Info().Msg("ticker subscription stopped")
		case <-timer.C:
			in.stopErr = ErrStopTimeout
			in.logger.Warn().Dur("timeout", in.opts.StopTimeout).Msg("receive loop still running after stop timeout")
		}
	})
	return in.stopErr
}

func (in *Ingestor) run(ctx context.Context, endpoint string, done chan struct{}) {
	defer close(done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = in.opts.MaxBackoff
	bo.MaxElapsedTime = 0

	for {
		err := in.consume(ctx, endpoint, bo)
		if ctx.Err() != nil {
			return
		}
		if !in.opts.Reconnect {
			in.logger.Warn().Err(err).Msg("ticker subscription ended; keeping last known state")
			return
		}

		wait := bo.NextBackOff()
		in.logger.Warn().Err(err).Dur("retry_in", wait).Msg("ticker subscription dropped, reconnecting")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (in *Ingestor) consume(ctx context.Context, endpoint string, bo backoff.BackOff) error {
	conn, _, err := in.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return err
	}

	in.mu.Lock()
	if ctx.Err() != nil {
		in.mu.Unlock()
		_ = conn.Close()
		return ctx.Err()
	}
	in.conn = conn
	in.mu.Unlock()

	finished := make(chan struct{})
	defer func() {
		close(finished)
		in.mu.Lock()
		in.conn = nil
		in.mu.Unlock()
		_ = conn.Close()
	}()

	// unblock ReadMessage when the parent context goes away
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-finished:
		}
	}()

	bo.Reset()
	metrics.StreamConnects.Inc()
	in.logger.Info().Msg("ticker subscription connected")

	conn.SetReadLimit(1 << 20)
	in.extendDeadline(conn)
	conn.SetPongHandler(func(string) error {
		in.extendDeadline(conn)
		return nil
	})

	if in.opts.PingInterval > 0 {
		pingCtx, pingCancel := context.WithCancel(ctx)
		defer pingCancel()
		go in.keepAlive(pingCtx, conn)
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		in.extendDeadline(conn)

		tick, ok := DecodeTick(message)
		if !ok {
			metrics.TicksDropped.Inc()
			in.logger.Debug().Int("bytes", len(message)).Msg("dropping non-ticker message")
			continue
		}
		in.store.ApplyTick(tick)
		metrics.TicksApplied.WithLabelValues(tick.Symbol).Inc()

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (in *Ingestor) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(in.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				in.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (in *Ingestor) extendDeadline(conn *websocket.Conn) {
	if in.opts.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(in.opts.ReadTimeout))
	}
}
