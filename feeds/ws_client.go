package feeds

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"nse-signal-engine/metrics"
	"nse-signal-engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BROKER WEBSOCKET FEED - live ticks for the scan universe
// ═══════════════════════════════════════════════════════════════════════════════
//
// Maintains one stream for all subscribed tokens (~500 equities plus the
// index/VIX tokens). On every (re)connect the full token list is
// resubscribed. Parsed ticks fan out to subscriber channels; the scan side
// drains them into the market data store.
//
// Reconnection is owned by the connection loop alone: a read error tears the
// socket down, the loop counts one reconnect and dials again. Nothing else
// touches that state.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	wsReconnectDelay = 5 * time.Second
	wsPingInterval   = 30 * time.Second
	exchangeNSE      = 1
	modeFull         = 3
)

// BrokerFeed manages the broker tick stream.
type BrokerFeed struct {
	mu sync.RWMutex

	wsURL       string
	dialTimeout time.Duration
	session     *Session

	conn      *websocket.Conn
	connected bool
	running   bool
	stopCh    chan struct{}

	// token -> trading symbol, fixed before Start
	tokenToSymbol map[string]string
	tokens        []string

	subscribers []chan types.Tick

	reconnects    int64
	ticksReceived int64
	lastTickAt    time.Time
}

// NewBrokerFeed creates a feed over the given instrument set. Index tokens
// may be included; ticks for tokens missing from the symbol map are dropped
// by the parser.
func NewBrokerFeed(wsURL string, dialTimeout time.Duration, session *Session, instruments []types.Instrument) *BrokerFeed {
	tokenToSymbol := make(map[string]string, len(instruments))
	tokens := make([]string, 0, len(instruments))
	for _, in := range instruments {
		tokenToSymbol[in.Token] = in.Symbol
		tokens = append(tokens, in.Token)
	}
	return &BrokerFeed{
		wsURL:         wsURL,
		dialTimeout:   dialTimeout,
		session:       session,
		stopCh:        make(chan struct{}),
		tokenToSymbol: tokenToSymbol,
		tokens:        tokens,
		subscribers:   make([]chan types.Tick, 0),
	}
}

// SetUniverse replaces the instrument set. Must be called before Start:
// the read loop and subscribe path access the token map without locking.
func (f *BrokerFeed) SetUniverse(instruments []types.Instrument) {
	tokenToSymbol := make(map[string]string, len(instruments))
	tokens := make([]string, 0, len(instruments))
	for _, in := range instruments {
		tokenToSymbol[in.Token] = in.Symbol
		tokens = append(tokens, in.Token)
	}

	f.mu.Lock()
	f.tokenToSymbol = tokenToSymbol
	f.tokens = tokens
	f.mu.Unlock()
}

// Start connects and begins streaming.
func (f *BrokerFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go f.connectionLoop()
	log.Info().Int("tokens", len(f.tokens)).Msg("📡 Broker feed started")
}

// Stop closes the stream.
func (f *BrokerFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)

	if f.conn != nil {
		f.conn.Close()
	}
	log.Info().Msg("Broker feed stopped")
}

// Subscribe returns a channel that receives parsed ticks.
func (f *BrokerFeed) Subscribe() chan types.Tick {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan types.Tick, 1000)
	f.subscribers = append(f.subscribers, ch)
	return ch
}

// Connected reports whether the socket is currently up.
func (f *BrokerFeed) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// Stats returns feed health for the dashboard and STATUS command.
func (f *BrokerFeed) Stats() map[string]any {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return map[string]any{
		"connected":      f.connected,
		"reconnects":     f.reconnects,
		"ticks_received": f.ticksReceived,
		"last_tick_at":   f.lastTickAt,
		"tokens":         len(f.tokens),
	}
}

// connectionLoop dials, resubscribes and reads until stopped. It is the
// single owner of reconnect accounting.
func (f *BrokerFeed) connectionLoop() {
	first := true
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		if !first {
			f.mu.Lock()
			f.reconnects++
			n := f.reconnects
			f.mu.Unlock()
			metrics.FeedReconnects.Inc()
			log.Warn().Int64("count", n).Msg("🔄 Reconnecting broker feed...")
			time.Sleep(wsReconnectDelay)
		}
		first = false

		if err := f.connect(); err != nil {
			log.Error().Err(err).Msg("Broker feed connect failed")
			continue
		}

		if err := f.subscribeAll(); err != nil {
			log.Error().Err(err).Msg("Token subscribe failed")
			f.teardown()
			continue
		}

		f.readLoop()
		f.teardown()
	}
}

func (f *BrokerFeed) connect() error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+f.session.FeedToken())
	header.Set("x-api-key", f.session.APIKey())
	header.Set("x-client-code", f.session.ClientCode())
	header.Set("x-feed-token", f.session.FeedToken())

	dialer := websocket.Dialer{HandshakeTimeout: f.dialTimeout}
	conn, _, err := dialer.Dial(f.wsURL, header)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.connected = true
	f.mu.Unlock()

	log.Info().Msg("🔌 Broker WebSocket connected")
	go f.pingLoop(conn)
	return nil
}

// subscribeAll requests the full-quote stream for every tracked token.
func (f *BrokerFeed) subscribeAll() error {
	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()
	if conn == nil {
		return nil
	}

	msg := map[string]any{
		"correlationID": "signal-engine",
		"action":        1,
		"params": map[string]any{
			"mode": modeFull,
			"tokenList": []map[string]any{
				{"exchangeType": exchangeNSE, "tokens": f.tokens},
			},
		},
	}
	if err := conn.WriteJSON(msg); err != nil {
		return err
	}
	log.Info().Int("tokens", len(f.tokens)).Msg("📶 Subscribed to tick stream")
	return nil
}

func (f *BrokerFeed) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.mu.RLock()
			current := f.conn
			connected := f.connected
			f.mu.RUnlock()

			// A new connection runs its own ping loop.
			if !connected || current != conn {
				return
			}
			conn.WriteMessage(websocket.TextMessage, []byte("ping"))
		}
	}
}

func (f *BrokerFeed) readLoop() {
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("Broker feed read error")
			return
		}

		if len(message) == 4 && string(message) == "pong" {
			continue
		}

		ticks, err := ParseTickFrame(message, f.tokenToSymbol)
		if err != nil {
			log.Debug().Err(err).Msg("Unparseable tick frame")
			continue
		}

		f.mu.Lock()
		f.ticksReceived += int64(len(ticks))
		if len(ticks) > 0 {
			f.lastTickAt = ticks[len(ticks)-1].Timestamp
		}
		f.mu.Unlock()

		for _, t := range ticks {
			f.broadcast(t)
		}
	}
}

func (f *BrokerFeed) teardown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}

func (f *BrokerFeed) broadcast(tick types.Tick) {
	f.mu.RLock()
	subs := f.subscribers
	f.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- tick:
		default:
			// Slow consumer; drop rather than stall the read loop.
		}
	}
}
