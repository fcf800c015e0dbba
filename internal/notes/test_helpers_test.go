package notes

import (
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) PublishNoteEvent(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *recordingPublisher) {
	t.Helper()

	dsn := fmt.Sprintf("file:agora_notes_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&Note{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := &steppingClock{current: time.Unix(1700000000, 0).UTC()}
	publisher := &recordingPublisher{}
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    clock.Now,
		Events:   publisher,
	})
	if err != nil {
		t.Fatalf("failed to construct notes service: %v", err)
	}
	return service, db, publisher
}

func mustCreate(t *testing.T, service *Service, request CreateRequest) Note {
	t.Helper()
	note, err := service.Create(t.Context(), request)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return note
}

func stringPtr(value string) *string {
	return &value
}
