package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradepipe/pkg/types"
)

const (
	defaultStreamURL = "wss://stream.binance.com:9443/ws"
	testnetStreamURL = "wss://testnet.binance.vision/ws"
)

// StreamClient consumes the exchange's public combined trade stream and
// emits domain ticks. One connection covers every configured symbol.
type StreamClient struct {
	baseURL string
	dialer  *websocket.Dialer
	log     zerolog.Logger
}

// NewStreamClient builds a stream client; an empty url selects the public
// endpoint (or the testnet one).
func NewStreamClient(wsURL string, useTestnet bool, log zerolog.Logger) *StreamClient {
	if wsURL == "" {
		wsURL = defaultStreamURL
		if useTestnet {
			wsURL = testnetStreamURL
		}
	}
	return &StreamClient{
		baseURL: wsURL,
		dialer:  websocket.DefaultDialer,
		log:     log.With().Str("component", "binance-stream").Logger(),
	}
}

// CombinedStreamURL renders {base}/{s1}@trade/{s2}@trade/... for the symbol
// list. Symbols are lowercased as the stream endpoint requires.
func (c *StreamClient) CombinedStreamURL(symbols []string) string {
	parts := make([]string, 0, len(symbols))
	for _, s := range symbols {
		parts = append(parts, strings.ToLower(s)+"@trade")
	}
	return c.baseURL + "/" + strings.Join(parts, "/")
}

// tradeMessage is the trade stream payload; unknown fields are ignored.
type tradeMessage struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

// ParseTick converts one inbound stream message into a MarketTick.
func ParseTick(raw []byte) (types.MarketTick, error) {
	var msg tradeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return types.MarketTick{}, fmt.Errorf("parse trade message: %w", err)
	}
	if msg.Symbol == "" {
		return types.MarketTick{}, fmt.Errorf("trade message missing symbol")
	}
	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return types.MarketTick{}, fmt.Errorf("parse trade price %q: %w", msg.Price, err)
	}
	volume, err := decimal.NewFromString(msg.Quantity)
	if err != nil {
		return types.MarketTick{}, fmt.Errorf("parse trade quantity %q: %w", msg.Quantity, err)
	}
	return types.MarketTick{
		Symbol:    msg.Symbol,
		Price:     price,
		Volume:    volume,
		Timestamp: time.UnixMilli(msg.TradeTime).UTC(),
	}, nil
}

// Subscribe opens the combined stream and pushes parsed ticks into the
// returned channel until the connection drops or ctx is cancelled. Malformed
// messages are logged and skipped; the stream continues.
func (c *StreamClient) Subscribe(ctx context.Context, symbols []string) (<-chan types.MarketTick, func(), error) {
	u := c.CombinedStreamURL(symbols)
	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial trade stream: %w", err)
	}

	out := make(chan types.MarketTick, 256)
	// Only the reader goroutine may close out: it is the channel's sender,
	// and closing from stop would race a pending send.
	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		})
	}

	go func() {
		defer close(out)
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			_, raw, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
					strings.Contains(err.Error(), "use of closed network connection") {
					return
				}
				c.log.Warn().Err(err).Msg("stream read error")
				return
			}

			tick, err := ParseTick(raw)
			if err != nil {
				c.log.Warn().Err(err).Msg("dropping malformed stream message")
				continue
			}
			select {
			case out <- tick:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, stop, nil
}
