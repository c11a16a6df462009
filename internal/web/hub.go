package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"rider-safety/internal/alert"
	"rider-safety/internal/connmgr"
	"rider-safety/internal/location"
)

const (
	EventState = "state"
	EventFix   = "fix"
	EventAlert = "alert"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Event is one message pushed to UI clients.
type Event struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

type fixEvent struct {
	location.Fix
	Seq uint64 `json:"seq"`
}

type alertEvent struct {
	alert.Result
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Hub fans out state, fix and alert events to websocket clients. It keeps
// the last state and fix so new clients start with a snapshot. Slow clients
// drop events rather than block publishers.
type Hub struct {
	log logrus.FieldLogger

	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	last   map[string]Event

	upgrader websocket.Upgrader
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		log:  log.WithField("component", "hub"),
		subs: make(map[int]chan Event),
		last: make(map[string]Event),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The control UI is served from the device itself or a local app.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Hub) Publish(typ string, data any) {
	ev := Event{Type: typ, At: time.Now().UTC(), Data: data}
	h.mu.Lock()
	if typ == EventState || typ == EventFix {
		h.last[typ] = ev
	}
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
}

// Subscribe returns a channel that first carries the latest state and fix
// snapshots, then every later event.
func (h *Hub) Subscribe(buffer int) (int, <-chan Event) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	for _, typ := range []string{EventState, EventFix} {
		if ev, ok := h.last[typ]; ok {
			select {
			case ch <- ev:
			default:
			}
		}
	}
	return id, ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	ch, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}

// Clients returns the number of subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// OnState is a connmgr watcher.
func (h *Hub) OnState(s connmgr.State) {
	h.Publish(EventState, s)
}

// OnFix is a location store subscriber.
func (h *Hub) OnFix(u location.Update) {
	h.Publish(EventFix, fixEvent{Fix: u.Fix, Seq: u.Seq})
}

// Acknowledge pushes a terminal dispatch result with its user-facing text.
func (h *Hub) Acknowledge(r alert.Result) {
	title, body := r.Message()
	h.Publish(EventAlert, alertEvent{Result: r, Title: title, Body: body})
}

// ServeWS upgrades the request and streams events until the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	id, events := h.Subscribe(0)
	h.log.WithField("remote", r.RemoteAddr).Debug("websocket client connected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.Unsubscribe(id)
		_ = conn.Close()
		h.log.WithField("remote", r.RemoteAddr).Debug("websocket client disconnected")
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
