package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Tick is one mark price from the market-data feed.
type Tick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

type Handler func(Tick) error

// Client reads ticks from a websocket and hands each one to the handler,
// reconnecting with capped exponential backoff.
type Client struct {
	url     string
	handler Handler
	log     zerolog.Logger
	dialer  *websocket.Dialer

	minBackoff  time.Duration
	maxBackoff  time.Duration
	readTimeout time.Duration

	received atomic.Int64
	rejected atomic.Int64
}

func NewClient(url string, handler Handler, log zerolog.Logger) *Client {
	return &Client{
		url:         url,
		handler:     handler,
		log:         log,
		dialer:      websocket.DefaultDialer,
		minBackoff:  250 * time.Millisecond,
		maxBackoff:  30 * time.Second,
		readTimeout: 60 * time.Second,
	}
}

// Run blocks until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.minBackoff
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = c.minBackoff
		}
		c.log.Warn().
			Err(err).
			Str("url", c.url).
			Dur("retry_in", backoff).
			Msg("Market data feed disconnected")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

func (c *Client) session(ctx context.Context) (bool, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	c.log.Info().Str("url", c.url).Msg("Market data feed connected")

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return true, errors.New("closed by server")
			}
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))

		// frames may carry several newline separated ticks
		for _, raw := range bytes.Split(message, []byte{'\n'}) {
			if len(bytes.TrimSpace(raw)) == 0 {
				continue
			}
			c.dispatch(raw)
		}
	}
}

func (c *Client) dispatch(raw []byte) {
	var tick Tick
	if err := json.Unmarshal(raw, &tick); err != nil || tick.Symbol == "" {
		c.rejected.Add(1)
		c.log.Warn().Err(err).Bytes("payload", raw).Msg("Malformed tick skipped")
		return
	}
	c.received.Add(1)
	if err := c.handler(tick); err != nil {
		c.rejected.Add(1)
		c.log.Warn().
			Err(err).
			Str("symbol", tick.Symbol).
			Str("price", tick.Price.String()).
			Msg("Tick rejected")
	}
}

type Stats struct {
	Received int64 `json:"received"`
	Rejected int64 `json:"rejected"`
}

func (c *Client) Stats() Stats {
	return Stats{Received: c.received.Load(), Rejected: c.rejected.Load()}
}
