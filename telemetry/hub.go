// Package telemetry 通过 websocket 向看板推送每个周期的快照。
package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"theo-quoter/infrastructure/logger"
	"theo-quoter/internal/engine"
	"theo-quoter/market"
	"theo-quoter/strategy"
)

const (
	writeWait  = 2 * time.Second
	queueDepth = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Level 是一侧最优价位，空侧为 null。
type Level struct {
	Price  float64 `json:"price"`
	Volume int64   `json:"volume"`
}

type Leg struct {
	Instrument string `json:"instrument"`
	Bid        *Level `json:"bid"`
	Ask        *Level `json:"ask"`
	BidDepth   int64  `json:"bidDepth"`
	AskDepth   int64  `json:"askDepth"`
	Position   int64  `json:"position"`
}

type Quote struct {
	Instrument string              `json:"instrument"`
	Side       market.Side         `json:"side"`
	Price      float64             `json:"price"`
	Volume     int64               `json:"volume"`
	Kind       strategy.IntentKind `json:"kind"`
}

// Message 是推送给客户端的周期快照。
type Message struct {
	Cycle      int64     `json:"cycle"`
	Timestamp  time.Time `json:"ts"`
	Skipped    bool      `json:"skipped"`
	SkipReason string    `json:"skipReason,omitempty"`
	Error      string    `json:"error,omitempty"`
	Theo       float64   `json:"theo"`
	Margin     float64   `json:"margin"`
	Delta      int64     `json:"delta"`
	PnL        float64   `json:"pnl"`
	StatsN     int       `json:"statsN"`
	StatsMean  float64   `json:"statsMean"`
	StatsStdev float64   `json:"statsStdev"`
	Legs       []Leg     `json:"legs,omitempty"`
	Quotes     []Quote   `json:"quotes,omitempty"`
	OwnFills   int       `json:"ownFills"`
	Submitted  int       `json:"submitted"`
	Rejected   int       `json:"rejected"`
	DurationMs float64   `json:"durationMs"`
}

// FromReport 把周期报告转换为推送消息。
func FromReport(r engine.Report) Message {
	m := Message{
		Cycle:      r.Cycle,
		Timestamp:  r.Timestamp,
		Skipped:    r.Skipped,
		SkipReason: r.SkipReason,
		Error:      r.Err,
		Theo:       r.Theo,
		Margin:     r.Margin,
		Delta:      r.Delta,
		PnL:        r.PnL,
		StatsN:     r.Stats.N,
		StatsMean:  r.Stats.Mean,
		StatsStdev: r.Stats.Stdev(),
		OwnFills:   len(r.OwnTrades),
		Submitted:  len(r.Sync.Submitted),
		Rejected:   len(r.Sync.Rejected),
		DurationMs: float64(r.Duration) / float64(time.Millisecond),
	}
	if r.Skipped {
		return m
	}
	for _, top := range []engine.BookTop{r.Primary, r.Linked} {
		m.Legs = append(m.Legs, Leg{
			Instrument: top.Instrument,
			Bid:        levelOf(top.Bid),
			Ask:        levelOf(top.Ask),
			BidDepth:   top.BidDepth,
			AskDepth:   top.AskDepth,
			Position:   r.Positions[top.Instrument],
		})
	}
	for _, q := range r.Intents {
		m.Quotes = append(m.Quotes, Quote{Instrument: q.Instrument, Side: q.Side, Price: q.Price, Volume: q.Volume, Kind: q.Kind})
	}
	return m
}

func levelOf(t engine.Top) *Level {
	if !t.OK {
		return nil
	}
	return &Level{Price: t.Price, Volume: t.Volume}
}

// Hub 维护 websocket 连接并广播最新消息；新连接先收到最后一条消息。
type Hub struct {
	log       *logger.Logger
	broadcast chan []byte

	lock    sync.Mutex
	clients map[*websocket.Conn]struct{}
	last    []byte
}

func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		log:       log,
		broadcast: make(chan []byte, queueDepth),
		clients:   make(map[*websocket.Conn]struct{}),
	}
}

// OnCycle 实现 engine.Observer；队列满时丢弃，不阻塞控制循环。
func (h *Hub) OnCycle(r engine.Report) {
	msg, err := json.Marshal(FromReport(r))
	if err != nil {
		h.log.Warn("telemetry marshal failed", zap.Error(err))
		return
	}
	h.Broadcast(msg)
}

// Broadcast 投递原始消息。
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.log.Debug("telemetry queue full, dropping message")
	}
}

// Run 把队列中的消息写给所有客户端，直到 ctx 结束后关闭全部连接。
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.lock.Lock()
			for c := range h.clients {
				c.Close()
				delete(h.clients, c)
			}
			h.lock.Unlock()
			return
		case msg := <-h.broadcast:
			h.lock.Lock()
			h.last = msg
			for c := range h.clients {
				if err := write(c, msg); err != nil {
					c.Close()
					delete(h.clients, c)
				}
			}
			h.lock.Unlock()
		}
	}
}

// Clients 返回当前连接数。
func (h *Hub) Clients() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

// ServeHTTP 升级为 websocket 连接。
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	h.lock.Lock()
	if h.last != nil {
		if err := write(conn, h.last); err != nil {
			h.lock.Unlock()
			conn.Close()
			return
		}
	}
	h.clients[conn] = struct{}{}
	h.lock.Unlock()
	h.log.Info("telemetry client connected", zap.String("remote", r.RemoteAddr))

	go h.readLoop(conn)
}

// readLoop 只用于感知客户端断开。
func (h *Hub) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.lock.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	h.lock.Unlock()
}

func write(c *websocket.Conn, msg []byte) error {
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WriteMessage(websocket.TextMessage, msg)
}

// Handler 返回挂载在 path 上的 mux。
func (h *Hub) Handler(path string) http.Handler {
	if path == "" {
		path = "/ws"
	}
	mux := http.NewServeMux()
	mux.Handle(path, h)
	return mux
}
