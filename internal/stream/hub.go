package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	pipemodel "github.com/zhouzirui/z-insight/backend/internal/model/pipeline"
	"github.com/zhouzirui/z-insight/backend/internal/pipeline"
)

// Listener receives the events published for one session.
type Listener interface {
	ID() string
	// Send enqueues v without blocking; false means the listener can no longer keep up.
	Send(v any) bool
	// Drop stops the listener and tells its client why the feed ended.
	Drop(reason string)
	Close()
}

// overflowReason is sent to listeners dropped for falling behind.
const overflowReason = "event queue overflow, feed stopped"

// Hub maps session ids to their push listeners.
type Hub struct {
	mu        sync.RWMutex
	listeners map[string]map[string]Listener
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{listeners: make(map[string]map[string]Listener)}
}

// Register adds l to sessionID's listeners.
func (h *Hub) Register(sessionID string, l Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.listeners[sessionID]
	if !ok {
		set = make(map[string]Listener)
		h.listeners[sessionID] = set
	}
	set[l.ID()] = l
	log.Debug().Str("session", sessionID).Str("listener", l.ID()).Int("listeners", len(set)).Msg("listener registered")
}

// Unregister removes l. It reports whether l was registered.
func (h *Hub) Unregister(sessionID string, l Listener) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.listeners[sessionID]
	if !ok {
		return false
	}
	if _, ok := set[l.ID()]; !ok {
		return false
	}
	delete(set, l.ID())
	if len(set) == 0 {
		delete(h.listeners, sessionID)
	}
	return true
}

// Count returns the number of listeners of sessionID.
func (h *Hub) Count(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[sessionID])
}

// Publish hands ev to every listener of sessionID. Listeners that cannot
// accept it are dropped with a reason instead of skipping the event.
func (h *Hub) Publish(sessionID string, ev pipemodel.Event) {
	h.mu.RLock()
	targets := make([]Listener, 0, len(h.listeners[sessionID]))
	for _, l := range h.listeners[sessionID] {
		targets = append(targets, l)
	}
	h.mu.RUnlock()

	for _, l := range targets {
		if l.Send(ev) {
			continue
		}
		if h.Unregister(sessionID, l) {
			log.Warn().Str("session", sessionID).Str("listener", l.ID()).Msg("listener dropped, queue overflow")
		}
		l.Drop(overflowReason)
	}
}

// Broadcast wraps primary so every event it accepts is also published to
// sessionID's listeners. Only primary failures reach the caller.
func (h *Hub) Broadcast(sessionID string, primary pipeline.Emitter) pipeline.Emitter {
	return pipeline.EmitterFunc(func(ctx context.Context, ev pipemodel.Event) error {
		if err := primary.Emit(ctx, ev); err != nil {
			return err
		}
		h.Publish(sessionID, ev)
		return nil
	})
}

// CloseAll drops and closes every listener.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	all := h.listeners
	h.listeners = make(map[string]map[string]Listener)
	h.mu.Unlock()

	for _, set := range all {
		for _, l := range set {
			l.Close()
		}
	}
}

const (
	// DefaultQueueSize bounds a websocket listener's pending messages.
	DefaultQueueSize = 64

	writeWait  = 10 * time.Second
	pingPeriod = 54 * time.Second
)

// WSListener pushes messages to one websocket. All writes happen on its own
// goroutine, in enqueue order.
type WSListener struct {
	id    string
	conn  *websocket.Conn
	queue chan any

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	// set before done is closed
	reason string
}

// NewWSListener starts the writer goroutine for conn.
func NewWSListener(conn *websocket.Conn, queueSize int) *WSListener {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	l := &WSListener{
		id:      uuid.NewString(),
		conn:    conn,
		queue:   make(chan any, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go l.writeLoop()
	return l
}

func (l *WSListener) ID() string { return l.id }

// Send enqueues v. It never blocks.
func (l *WSListener) Send(v any) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- v:
		return true
	default:
		return false
	}
}

// Close stops the writer. The connection itself belongs to the caller.
func (l *WSListener) Close() {
	l.Drop("")
}

// Drop stops the writer; a non-empty reason is sent to the client as a
// close frame (1013 try again later) before the writer exits.
func (l *WSListener) Drop(reason string) {
	l.closeOnce.Do(func() {
		l.reason = reason
		close(l.done)
	})
}

// Done is closed once the listener stops writing.
func (l *WSListener) Done() <-chan struct{} {
	return l.done
}

// Stopped is closed after the writer goroutine has exited, close frame included.
func (l *WSListener) Stopped() <-chan struct{} {
	return l.stopped
}

func (l *WSListener) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer close(l.stopped)

	for {
		select {
		case <-l.done:
			if l.reason != "" {
				msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, l.reason)
				if err := l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
					log.Debug().Err(err).Str("listener", l.id).Msg("close frame not delivered")
				}
			}
			return
		case v := <-l.queue:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteJSON(v); err != nil {
				log.Debug().Err(err).Str("listener", l.id).Msg("websocket write failed")
				l.Close()
				return
			}
		case <-ticker.C:
			if err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				l.Close()
				return
			}
		}
	}
}
