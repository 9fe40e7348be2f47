package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"gocv.io/x/gocv"

	"github.com/ayusman/vistrain/internal/sink"
)

const (
	eventQueueSize = 64
	writeTimeout   = time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// Event is one message pushed to /api/events clients.
type Event struct {
	Type       string `json:"type"`
	Frame      int    `json:"frame,omitempty"`
	Classifier string `json:"classifier,omitempty"`
	Boxes      []Box  `json:"boxes,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// EventHub is a pipeline output sink that broadcasts detections to
// websocket clients. Events are queued so the pipeline never waits on a
// slow client; when the queue is full new events are dropped.
type EventHub struct {
	log     logs.Log
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
	queue   chan []byte
	done    chan struct{}
	once    sync.Once

	frameMu sync.Mutex
	frame   int
}

func NewEventHub(log logs.Log) *EventHub {
	h := &EventHub{
		log:     log,
		clients: make(map[*websocket.Conn]bool),
		queue:   make(chan []byte, eventQueueSize),
		done:    make(chan struct{}),
	}
	go h.broadcast()
	return h
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Clients returns the number of connected clients.
func (h *EventHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) publish(ev Event) {
	ev.Timestamp = time.Now().UnixMilli()
	msg, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case h.queue <- msg:
	default:
	}
}

// broadcast sends queued events to all connected clients.
func (h *EventHub) broadcast() {
	for {
		select {
		case <-h.done:
			return
		case msg := <-h.queue:
			h.mu.RLock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					h.log.Debugf("websocket write failed: %v", err)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Close stops the broadcaster. Connected clients are left to time out.
func (h *EventHub) Close() {
	h.once.Do(func() { close(h.done) })
}

func (h *EventHub) Name() string { return "events" }

func (h *EventHub) ProcessInput(frame gocv.Mat) {
	h.frameMu.Lock()
	h.frame++
	h.frameMu.Unlock()
}

func (h *EventHub) ProcessOutput(frame, mask gocv.Mat, contours gocv.PointsVector, classifierName string) {
	regions := sink.Regions(mask, contours)
	if len(regions) == 0 {
		return
	}
	boxes := make([]Box, len(regions))
	for i, r := range regions {
		boxes[i] = Box{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
	}
	h.frameMu.Lock()
	n := h.frame
	h.frameMu.Unlock()
	h.publish(Event{Type: "detection", Frame: n, Classifier: classifierName, Boxes: boxes})
}

func (h *EventHub) StartRunning() {
	h.frameMu.Lock()
	h.frame = 0
	h.frameMu.Unlock()
	h.publish(Event{Type: "started"})
}

func (h *EventHub) StopRunning() {
	h.publish(Event{Type: "stopped"})
}
