package patch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/agora-labs/agora/internal/apperror"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type element struct {
	ElementID int64   `gorm:"column:element_id;primaryKey"`
	Symbol    string  `gorm:"column:symbol;size:5;not null;uniqueIndex"`
	Name      string  `gorm:"column:name;size:100;not null"`
	Mass      float64 `gorm:"column:mass;not null"`
}

func (element) TableName() string {
	return "elements"
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:patch_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&element{}))
	require.NoError(t, db.Create(&[]element{
		{ElementID: 1, Symbol: "H", Name: "Hydrogen", Mass: 1.008},
		{ElementID: 2, Symbol: "He", Name: "Helium", Mass: 4.0026},
	}).Error)
	return db
}

func stringPtr(value string) *string {
	return &value
}

func TestFieldSkipsAbsentValues(t *testing.T) {
	var set Set
	Field[string](&set, "name", nil)
	Field(&set, "mass", func() *float64 { v := 2.5; return &v }())
	UniqueField(&set, "symbol", stringPtr("X"))
	UniqueField[int](&set, "number", nil)

	assert.False(t, set.Empty())
	assert.Equal(t, []string{"mass", "symbol"}, set.Columns())
	assert.Equal(t, map[string]any{"mass": 2.5, "symbol": "X"}, set.Values())

	assignments := set.Assignments()
	require.Len(t, assignments, 2)
	assert.False(t, assignments[0].Unique)
	assert.True(t, assignments[1].Unique)
}

func TestApplyUpdatesPresentFieldsAndReadsBack(t *testing.T) {
	db := openTestDatabase(t)

	var set Set
	Field(&set, "name", stringPtr("Protium"))

	var updated element
	err := Apply(context.Background(), db, Request{Model: &updated, KeyColumn: "element_id", Key: 1, Set: set, EmptyPolicy: EmptyRejected})
	require.NoError(t, err)
	assert.Equal(t, "Protium", updated.Name)
	assert.Equal(t, "H", updated.Symbol, "absent fields keep their stored value")
	assert.InDelta(t, 1.008, updated.Mass, 1e-9)
}

func TestApplyEmptyPolicies(t *testing.T) {
	db := openTestDatabase(t)

	var current element
	err := Apply(context.Background(), db, Request{Model: &current, KeyColumn: "element_id", Key: 2, EmptyPolicy: EmptyReturnsCurrent})
	require.NoError(t, err)
	assert.Equal(t, "Helium", current.Name)

	var rejected element
	err = Apply(context.Background(), db, Request{Model: &rejected, KeyColumn: "element_id", Key: 2, EmptyPolicy: EmptyRejected})
	assert.ErrorIs(t, err, apperror.ErrNoFieldsToUpdate)
}

func TestApplyRejectsUniqueConflictBeforeMutation(t *testing.T) {
	db := openTestDatabase(t)

	var set Set
	Field(&set, "name", stringPtr("Changed"))
	UniqueField(&set, "symbol", stringPtr("He"))

	var target element
	err := Apply(context.Background(), db, Request{Model: &target, KeyColumn: "element_id", Key: 1, Set: set, EmptyPolicy: EmptyRejected})
	require.ErrorIs(t, err, apperror.ErrConflict)

	var conflict *apperror.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "symbol", conflict.Field)
	assert.Equal(t, "He", conflict.Value)

	var first, second element
	require.NoError(t, db.Take(&first, "element_id = ?", 1).Error)
	require.NoError(t, db.Take(&second, "element_id = ?", 2).Error)
	assert.Equal(t, "Hydrogen", first.Name)
	assert.Equal(t, "H", first.Symbol)
	assert.Equal(t, "He", second.Symbol)
}

func TestApplyAllowsKeepingOwnUniqueValue(t *testing.T) {
	db := openTestDatabase(t)

	var set Set
	UniqueField(&set, "symbol", stringPtr("H"))

	var target element
	err := Apply(context.Background(), db, Request{Model: &target, KeyColumn: "element_id", Key: 1, Set: set, EmptyPolicy: EmptyRejected})
	require.NoError(t, err)
	assert.Equal(t, "H", target.Symbol)
}

func TestApplyMissingRecord(t *testing.T) {
	db := openTestDatabase(t)

	var set Set
	Field(&set, "name", stringPtr("Ghost"))

	var target element
	err := Apply(context.Background(), db, Request{Model: &target, KeyColumn: "element_id", Key: 99, Set: set})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestApplyRollsBackOnPersistenceFailure(t *testing.T) {
	db := openTestDatabase(t)

	var set Set
	Field(&set, "name", stringPtr("Broken"))
	Field(&set, "no_such_column", stringPtr("x"))

	var target element
	err := Apply(context.Background(), db, Request{Model: &target, KeyColumn: "element_id", Key: 1, Set: set, EmptyPolicy: EmptyRejected})
	require.ErrorIs(t, err, apperror.ErrPersistence)

	var stored element
	require.NoError(t, db.Take(&stored, "element_id = ?", 1).Error)
	assert.Equal(t, "Hydrogen", stored.Name)
}

func TestApplyRequiresDatabase(t *testing.T) {
	err := Apply(context.Background(), nil, Request{Model: &element{}, KeyColumn: "element_id", Key: 1})
	assert.ErrorIs(t, err, apperror.ErrPersistence)
}
