package database

import (
	"errors"
	"time"

	"github.com/agora-labs/agora/internal/chemistry"
	"github.com/agora-labs/agora/internal/notes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillNoteAuthors  = "2026-09-14_backfill_null_note_authors"
	migrationTranslateLegacyRoles = "2026-09-21_translate_legacy_reaction_roles"
)

// legacyRoles maps role labels from imported datasets to the stored enumeration.
var legacyRoles = map[string]chemistry.Role{
	"réactif": chemistry.RoleReactant,
	"reactif": chemistry.RoleReactant,
	"produit": chemistry.RoleProduct,
}

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillNoteAuthors, apply: backfillNoteAuthors},
		{name: migrationTranslateLegacyRoles, apply: translateLegacyRoles},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillNoteAuthors replaces NULL authors left by imports that predate the default.
func backfillNoteAuthors(db *gorm.DB) error {
	if !db.Migrator().HasTable(&notes.Note{}) {
		return nil
	}
	return db.Model(&notes.Note{}).
		Where("author IS NULL").
		Update("author", notes.DefaultAuthor).Error
}

// translateLegacyRoles runs before the role CHECK constraint is created on legacy tables.
func translateLegacyRoles(db *gorm.DB) error {
	if !db.Migrator().HasTable(&chemistry.ReactionMolecule{}) {
		return nil
	}
	return db.Transaction(func(tx *gorm.DB) error {
		for legacy, role := range legacyRoles {
			if err := tx.Model(&chemistry.ReactionMolecule{}).
				Where("role = ?", legacy).
				Update("role", role).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
