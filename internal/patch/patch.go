// Package patch turns sparse update payloads into parameter-bound column assignments
// and applies them all-or-nothing.
package patch

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/agora-labs/agora/internal/apperror"
	"gorm.io/gorm"
)

// EmptyPolicy decides what an update without present fields means.
type EmptyPolicy int

const (
	// EmptyReturnsCurrent treats an empty update as a successful no-op.
	EmptyReturnsCurrent EmptyPolicy = iota
	// EmptyRejected fails an empty update with apperror.ErrNoFieldsToUpdate.
	EmptyRejected
)

const opApply = "patch.apply"

// Assignment is a single column = value pair.
type Assignment struct {
	Column string
	Value  any
	Unique bool
}

// Set is an ordered list of assignments built from present fields.
type Set struct {
	assignments []Assignment
}

// Field adds column = *value when value is present.
func Field[T any](set *Set, column string, value *T) {
	if value == nil {
		return
	}
	set.assignments = append(set.assignments, Assignment{Column: column, Value: *value})
}

// UniqueField adds column = *value when present and marks the column for a conflict check.
func UniqueField[T any](set *Set, column string, value *T) {
	if value == nil {
		return
	}
	set.assignments = append(set.assignments, Assignment{Column: column, Value: *value, Unique: true})
}

// Empty reports whether no field was present.
func (s Set) Empty() bool {
	return len(s.assignments) == 0
}

// Assignments returns a copy of the assignments in insertion order.
func (s Set) Assignments() []Assignment {
	return append([]Assignment(nil), s.assignments...)
}

// Columns lists the assigned column names in insertion order.
func (s Set) Columns() []string {
	columns := make([]string, 0, len(s.assignments))
	for _, assignment := range s.assignments {
		columns = append(columns, assignment.Column)
	}
	return columns
}

// Values maps column names to their new values.
func (s Set) Values() map[string]any {
	values := make(map[string]any, len(s.assignments))
	for _, assignment := range s.assignments {
		values[assignment.Column] = assignment.Value
	}
	return values
}

// Request describes one partial update against a single record.
type Request struct {
	// Model points at a zero value of the record type and receives the stored record.
	Model       any
	KeyColumn   string
	Key         any
	Set         Set
	EmptyPolicy EmptyPolicy
}

// Apply loads the record, checks unique columns, applies every assignment in one
// statement and reads the record back, all inside a single transaction.
func Apply(ctx context.Context, db *gorm.DB, request Request) error {
	if db == nil {
		return apperror.New(opApply, "missing_database", apperror.ErrPersistence, errors.New("database handle is required"))
	}
	keyFilter := fmt.Sprintf("%s = ?", request.KeyColumn)

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(keyFilter, request.Key).Take(request.Model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperror.New(opApply, "not_found", apperror.ErrNotFound, nil)
			}
			return apperror.New(opApply, "select_failed", apperror.ErrPersistence, err)
		}

		if request.Set.Empty() {
			if request.EmptyPolicy == EmptyRejected {
				return apperror.New(opApply, "no_fields", apperror.ErrNoFieldsToUpdate, nil)
			}
			return nil
		}

		for _, assignment := range request.Set.assignments {
			if !assignment.Unique {
				continue
			}
			var conflicts int64
			err := tx.Model(zeroOf(request.Model)).
				Where(fmt.Sprintf("%s = ?", assignment.Column), assignment.Value).
				Where(fmt.Sprintf("%s <> ?", request.KeyColumn), request.Key).
				Count(&conflicts).Error
			if err != nil {
				return apperror.New(opApply, "conflict_check_failed", apperror.ErrPersistence, err)
			}
			if conflicts > 0 {
				return apperror.New(opApply, "conflict", apperror.ErrConflict,
					&apperror.ConflictError{Field: assignment.Column, Value: assignment.Value})
			}
		}

		update := tx.Model(request.Model).Where(keyFilter, request.Key).Updates(request.Set.Values())
		if update.Error != nil {
			return apperror.New(opApply, "update_failed", apperror.ErrPersistence, update.Error)
		}

		if err := tx.Where(keyFilter, request.Key).Take(request.Model).Error; err != nil {
			return apperror.New(opApply, "reload_failed", apperror.ErrPersistence, err)
		}
		return nil
	})
}

// zeroOf returns a fresh pointer of the model's type so counts carry no primary key condition.
func zeroOf(model any) any {
	return reflect.New(reflect.TypeOf(model).Elem()).Interface()
}
