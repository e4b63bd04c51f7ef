package kis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/stocktradebot/internal/domain"
)

// Transaction ID for the real-time execution-price stream.
const trRealtimePrice = "H0STCNT0"

// PriceStreamer subscribes to the KIS realtime websocket for the configured
// symbols and writes every tick into the price cache. It reconnects with a
// flat backoff on disconnect.
type PriceStreamer struct {
	wsURL     string
	symbols   []string
	approvals interface {
		ApprovalKey(ctx context.Context) (string, error)
	}
	cache  domain.PriceCache
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewPriceStreamer creates a streamer fed by the client's approval key.
func NewPriceStreamer(wsURL string, symbols []string, client *Client, cache domain.PriceCache, logger *slog.Logger) *PriceStreamer {
	return &PriceStreamer{
		wsURL:     wsURL,
		symbols:   symbols,
		approvals: client,
		cache:     cache,
		logger:    logger.With(slog.String("component", "kis_price_stream")),
		done:      make(chan struct{}),
	}
}

// Run connects, subscribes, and pumps ticks until ctx is cancelled.
func (s *PriceStreamer) Run(ctx context.Context) error {
	if len(s.symbols) == 0 {
		s.logger.Info("kis stream: no symbols to subscribe, exiting")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		err := s.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("kis stream disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// Close stops the streamer.
func (s *PriceStreamer) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *PriceStreamer) runConnection(ctx context.Context) error {
	approvalKey, err := s.approvals.ApprovalKey(ctx)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.wsURL, err)
	}
	defer conn.Close()

	for _, symbol := range s.symbols {
		if err := s.subscribe(conn, approvalKey, symbol); err != nil {
			return fmt.Errorf("subscribe %s: %w", symbol, err)
		}
	}
	s.logger.InfoContext(ctx, "kis stream subscribed", slog.Int("symbols", len(s.symbols)))

	// Unblock the read loop when the context ends.
	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if reply := s.handleMessage(ctx, msg); reply != nil {
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return err
			}
		}
	}
}

// subscribe sends one registration frame for a symbol.
func (s *PriceStreamer) subscribe(conn *websocket.Conn, approvalKey, symbol string) error {
	frame := map[string]any{
		"header": map[string]string{
			"approval_key": approvalKey,
			"custtype":     "P",
			"tr_type":      "1",
			"content-type": "utf-8",
		},
		"body": map[string]any{
			"input": map[string]string{
				"tr_id":  trRealtimePrice,
				"tr_key": symbol,
			},
		},
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// handleMessage routes one frame and returns the reply to send, if any. Tick
// frames are pipe-delimited and start with "0" or "1"; everything else is a
// JSON control frame (subscribe acks and keepalives). PINGPONG frames must be
// echoed back unchanged or the server drops the subscription.
func (s *PriceStreamer) handleMessage(ctx context.Context, msg []byte) []byte {
	if len(msg) == 0 {
		return nil
	}
	if msg[0] == '0' || msg[0] == '1' {
		s.handleTick(ctx, string(msg))
		return nil
	}

	var control struct {
		Header struct {
			TrID string `json:"tr_id"`
		} `json:"header"`
	}
	if err := json.Unmarshal(msg, &control); err != nil {
		return nil
	}
	if control.Header.TrID == "PINGPONG" {
		s.logger.Debug("kis stream: pingpong")
		return msg
	}
	return nil
}

// handleTick parses one realtime frame. Layout is
// flag|tr_id|count|payload, with the payload caret-delimited: field 0 is the
// symbol and field 2 the execution price.
func (s *PriceStreamer) handleTick(ctx context.Context, raw string) {
	parts := strings.SplitN(raw, "|", 4)
	if len(parts) < 4 || parts[1] != trRealtimePrice {
		return
	}
	fields := strings.Split(parts[3], "^")
	if len(fields) < 3 {
		return
	}

	symbol := fields[0]
	price, err := parseWon(fields[2])
	if err != nil || price <= 0 {
		return
	}

	if err := s.cache.SetPrice(ctx, symbol, price, time.Now().UTC()); err != nil {
		s.logger.WarnContext(ctx, "kis stream: cache write failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}
