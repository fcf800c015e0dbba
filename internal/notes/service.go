package notes

import (
	"context"
	"errors"
	"time"

	"github.com/agora-labs/agora/internal/apperror"
	"github.com/agora-labs/agora/internal/patch"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew = "notes.service.new"
	opCreate     = "notes.create"
	opList       = "notes.list"
	opTop        = "notes.top"
	opGet        = "notes.get"
	opUpdate     = "notes.update"
	opVote       = "notes.vote"
	opPin        = "notes.pin"
	opDelete     = "notes.delete"
)

type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
	Events   EventPublisher
}

type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
	events EventPublisher
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperror.New(opServiceNew, "missing_database", apperror.ErrPersistence, errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:     cfg.Database,
		clock:  clock,
		logger: logger,
		events: cfg.Events,
	}, nil
}

// Create stores a new note with zero votes and pinned unset.
func (s *Service) Create(ctx context.Context, request CreateRequest) (Note, error) {
	if err := s.requireDatabase(opCreate); err != nil {
		return Note{}, err
	}

	author := DefaultAuthor
	if request.Author != nil {
		author = *request.Author
	}
	note := Note{
		Topic:     request.Topic,
		Content:   request.Content,
		Author:    author,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		s.logError(opCreate, "insert_failed", err)
		return Note{}, apperror.New(opCreate, "insert_failed", apperror.ErrPersistence, err)
	}

	stored, err := s.load(ctx, opCreate, NoteID(note.ID))
	if err != nil {
		return Note{}, err
	}
	s.publish(EventCreated, stored)
	return stored, nil
}

// List returns notes matching filter, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Note, error) {
	if err := s.requireDatabase(opList); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Model(&Note{})
	if filter.Topic != "" {
		query = query.Where("topic = ?", filter.Topic)
	}
	if filter.Author != "" {
		query = query.Where("author = ?", filter.Author)
	}
	query = patch.Contains(query, "content", filter.Search)

	notes := make([]Note, 0)
	if err := query.Order("created_at DESC").Order("id DESC").Find(&notes).Error; err != nil {
		s.logError(opList, "query_failed", err)
		return nil, apperror.New(opList, "query_failed", apperror.ErrPersistence, err)
	}
	return notes, nil
}

// Top returns up to limit notes ordered by votes, newest first on ties.
func (s *Service) Top(ctx context.Context, limit int) ([]Note, error) {
	if err := s.requireDatabase(opTop); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultTopLimit
	}

	notes := make([]Note, 0, limit)
	if err := s.db.WithContext(ctx).
		Order("votes DESC").
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&notes).Error; err != nil {
		s.logError(opTop, "query_failed", err)
		return nil, apperror.New(opTop, "query_failed", apperror.ErrPersistence, err)
	}
	return notes, nil
}

// Get returns a single note.
func (s *Service) Get(ctx context.Context, id NoteID) (Note, error) {
	if err := s.requireDatabase(opGet); err != nil {
		return Note{}, err
	}
	return s.load(ctx, opGet, id)
}

// Update applies the present fields of request. An empty request returns the note unchanged.
func (s *Service) Update(ctx context.Context, id NoteID, request UpdateRequest) (Note, error) {
	if err := s.requireDatabase(opUpdate); err != nil {
		return Note{}, err
	}

	var set patch.Set
	patch.Field(&set, "topic", request.Topic)
	patch.Field(&set, "content", request.Content)
	patch.Field(&set, "author", request.Author)

	var note Note
	err := patch.Apply(ctx, s.db, patch.Request{
		Model:       &note,
		KeyColumn:   "id",
		Key:         id.Uint64(),
		Set:         set,
		EmptyPolicy: patch.EmptyReturnsCurrent,
	})
	if err != nil {
		if errors.Is(err, apperror.ErrPersistence) {
			s.logError(opUpdate, "apply_failed", err, zap.Uint64("note_id", id.Uint64()))
		}
		return Note{}, apperror.Wrap(opUpdate, "apply_failed", err)
	}
	if !set.Empty() {
		s.publish(EventUpdated, note)
	}
	return note, nil
}

// Vote increments the vote counter by one in a single statement.
func (s *Service) Vote(ctx context.Context, id NoteID) (Note, error) {
	if err := s.requireDatabase(opVote); err != nil {
		return Note{}, err
	}

	result := s.db.WithContext(ctx).
		Model(&Note{}).
		Where("id = ?", id.Uint64()).
		UpdateColumn("votes", gorm.Expr("votes + ?", 1))
	if result.Error != nil {
		s.logError(opVote, "update_failed", result.Error, zap.Uint64("note_id", id.Uint64()))
		return Note{}, apperror.New(opVote, "update_failed", apperror.ErrPersistence, result.Error)
	}
	if result.RowsAffected == 0 {
		return Note{}, apperror.New(opVote, "not_found", apperror.ErrNotFound, nil)
	}

	note, err := s.load(ctx, opVote, id)
	if err != nil {
		return Note{}, err
	}
	s.publish(EventVoted, note)
	return note, nil
}

// Pin marks the note as pinned. Pinning an already pinned note changes nothing.
func (s *Service) Pin(ctx context.Context, id NoteID) (Note, error) {
	if err := s.requireDatabase(opPin); err != nil {
		return Note{}, err
	}

	var note Note
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id.Uint64()).Take(&note).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperror.New(opPin, "not_found", apperror.ErrNotFound, nil)
			}
			return apperror.New(opPin, "select_failed", apperror.ErrPersistence, err)
		}
		if err := tx.Model(&Note{}).Where("id = ?", id.Uint64()).UpdateColumn("pinned", true).Error; err != nil {
			return apperror.New(opPin, "update_failed", apperror.ErrPersistence, err)
		}
		if err := tx.Where("id = ?", id.Uint64()).Take(&note).Error; err != nil {
			return apperror.New(opPin, "reload_failed", apperror.ErrPersistence, err)
		}
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, apperror.ErrPersistence) {
			s.logError(opPin, "transaction_failed", txErr, zap.Uint64("note_id", id.Uint64()))
		}
		return Note{}, txErr
	}
	s.publish(EventPinned, note)
	return note, nil
}

// Delete physically removes the note.
func (s *Service) Delete(ctx context.Context, id NoteID) error {
	if err := s.requireDatabase(opDelete); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).Where("id = ?", id.Uint64()).Delete(&Note{})
	if result.Error != nil {
		s.logError(opDelete, "delete_failed", result.Error, zap.Uint64("note_id", id.Uint64()))
		return apperror.New(opDelete, "delete_failed", apperror.ErrPersistence, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperror.New(opDelete, "not_found", apperror.ErrNotFound, nil)
	}
	s.publishEvent(Event{Type: EventDeleted, NoteID: id.Uint64(), Timestamp: s.now()})
	return nil
}

func (s *Service) load(ctx context.Context, operation string, id NoteID) (Note, error) {
	var note Note
	err := s.db.WithContext(ctx).Where("id = ?", id.Uint64()).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Note{}, apperror.New(operation, "not_found", apperror.ErrNotFound, nil)
	}
	if err != nil {
		s.logError(operation, "select_failed", err, zap.Uint64("note_id", id.Uint64()))
		return Note{}, apperror.New(operation, "select_failed", apperror.ErrPersistence, err)
	}
	return note, nil
}

func (s *Service) requireDatabase(operation string) error {
	if s == nil || s.db == nil {
		s.logError(operation, "missing_database", errMissingDatabase)
		return apperror.New(operation, "missing_database", apperror.ErrPersistence, errMissingDatabase)
	}
	return nil
}

func (s *Service) publish(eventType EventType, note Note) {
	snapshot := note
	s.publishEvent(Event{Type: eventType, NoteID: note.ID, Note: &snapshot, Timestamp: s.now()})
}

func (s *Service) publishEvent(event Event) {
	if s.events == nil {
		return
	}
	s.events.PublishNoteEvent(event)
}

func (s *Service) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("notes service error", attrs...)
}
