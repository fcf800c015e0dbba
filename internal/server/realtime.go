package server

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/agora-labs/agora/internal/notes"
	"github.com/gin-gonic/gin"
)

const (
	RealtimeEventNoteChanged = "note-change"
	realtimeEventReady       = "ready"
	realtimeEventHeartbeat   = "heartbeat"
	realtimeSourceBackend    = "agora-backend"
)

type NoteEventMessage struct {
	Type      notes.EventType `json:"type"`
	NoteID    uint64          `json:"note_id"`
	Note      *noteResponse   `json:"note,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
}

// NoteEventDispatcher fans committed note events out to every stream subscriber.
// Slow subscribers drop messages rather than block publishers.
type NoteEventDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan NoteEventMessage
}

func NewNoteEventDispatcher() *NoteEventDispatcher {
	return &NoteEventDispatcher{
		subscribers: make(map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

func (d *NoteEventDispatcher) Subscribe(ctx context.Context) (<-chan NoteEventMessage, func()) {
	subscriber := &realtimeSubscriber{
		stream: make(chan NoteEventMessage, d.bufferSize),
	}
	d.registerSubscriber(subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregisterSubscriber(subscriber.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// PublishNoteEvent satisfies notes.EventPublisher.
func (d *NoteEventDispatcher) PublishNoteEvent(event notes.Event) {
	if event.Type == "" {
		return
	}
	message := NoteEventMessage{
		Type:      event.Type,
		NoteID:    event.NoteID,
		Timestamp: event.Timestamp.UTC(),
		Source:    realtimeSourceBackend,
	}
	if event.Note != nil {
		response := newNoteResponse(*event.Note)
		message.Note = &response
	}
	d.Publish(message)
}

func (d *NoteEventDispatcher) Publish(message NoteEventMessage) {
	d.mu.RLock()
	if len(d.subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// Subscribers reports the number of open streams.
func (d *NoteEventDispatcher) Subscribers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

func (d *NoteEventDispatcher) registerSubscriber(subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	subscriber.id = d.nextID
	d.subscribers[subscriber.id] = subscriber
}

func (d *NoteEventDispatcher) unregisterSubscriber(subscriberID int64) {
	d.mu.Lock()
	delete(d.subscribers, subscriberID)
	d.mu.Unlock()
}

// MultiPublisher forwards note events to several publishers in order.
type MultiPublisher []notes.EventPublisher

func (m MultiPublisher) PublishNoteEvent(event notes.Event) {
	for _, publisher := range m {
		if publisher != nil {
			publisher.PublishNoteEvent(event)
		}
	}
}

func (h *httpHandler) handleNoteEvents(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.events.Subscribe(ctx)
	defer cleanup()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(realtimeEventReady, gin.H{"source": realtimeSourceBackend})
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message := <-stream:
			c.SSEvent(RealtimeEventNoteChanged, message)
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": tick.UTC()})
			return true
		}
	})
}
