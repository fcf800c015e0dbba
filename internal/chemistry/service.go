// Package chemistry serves read access and sparse updates over atoms, molecules and reactions.
package chemistry

import (
	"context"
	"errors"

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
	opServiceNew          = "chemistry.service.new"
	opListAtoms           = "chemistry.atoms.list"
	opGetAtom             = "chemistry.atoms.get"
	opUpdateAtom          = "chemistry.atoms.update"
	opListMolecules       = "chemistry.molecules.list"
	opGetMolecule         = "chemistry.molecules.get"
	opComposition         = "chemistry.molecules.composition"
	opMoleculesByAtom     = "chemistry.molecules.by_atom"
	opUpdateMolecule      = "chemistry.molecules.update"
	opListReactions       = "chemistry.reactions.list"
	opGetReaction         = "chemistry.reactions.get"
	opParticipants        = "chemistry.reactions.participants"
	opReactionsByMolecule = "chemistry.reactions.by_molecule"
	opReactionTypes       = "chemistry.reactions.types"
	opUpdateReaction      = "chemistry.reactions.update"
	opStats               = "chemistry.stats"
)

type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperror.New(opServiceNew, "missing_database", apperror.ErrPersistence, errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, logger: logger}, nil
}

func (s *Service) ListAtoms(ctx context.Context, filter AtomFilter) ([]Atom, error) {
	if err := s.requireDatabase(opListAtoms); err != nil {
		return nil, err
	}
	page, err := filter.Page.normalize()
	if err != nil {
		return nil, apperror.New(opListAtoms, "invalid_page", apperror.ErrValidation, err)
	}

	query := patch.Contains(s.db.WithContext(ctx).Model(&Atom{}), "symbol", filter.Symbol)
	atoms := make([]Atom, 0)
	if err := query.Order("atom_id").Offset(page.Skip).Limit(page.Limit).Find(&atoms).Error; err != nil {
		s.logError(opListAtoms, "query_failed", err)
		return nil, apperror.New(opListAtoms, "query_failed", apperror.ErrPersistence, err)
	}
	return atoms, nil
}

func (s *Service) GetAtom(ctx context.Context, id uint64) (Atom, error) {
	if err := s.requireDatabase(opGetAtom); err != nil {
		return Atom{}, err
	}
	var atom Atom
	err := s.take(ctx, opGetAtom, &atom, "atom_id", id)
	return atom, err
}

// UpdateAtom replaces the present fields. Symbol and atomic number must stay unique.
func (s *Service) UpdateAtom(ctx context.Context, id uint64, update AtomUpdate) (Atom, error) {
	if err := s.requireDatabase(opUpdateAtom); err != nil {
		return Atom{}, err
	}
	if err := update.validate(); err != nil {
		return Atom{}, apperror.New(opUpdateAtom, "invalid_payload", apperror.ErrValidation, err)
	}

	var set patch.Set
	patch.UniqueField(&set, "symbol", update.Symbol)
	patch.Field(&set, "name", update.Name)
	patch.UniqueField(&set, "atomic_number", update.AtomicNumber)
	patch.Field(&set, "atomic_mass", update.AtomicMass)

	var atom Atom
	if err := s.apply(ctx, opUpdateAtom, &atom, "atom_id", id, set); err != nil {
		return Atom{}, err
	}
	return atom, nil
}

func (s *Service) ListMolecules(ctx context.Context, filter MoleculeFilter) ([]Molecule, error) {
	if err := s.requireDatabase(opListMolecules); err != nil {
		return nil, err
	}
	page, err := filter.Page.normalize()
	if err != nil {
		return nil, apperror.New(opListMolecules, "invalid_page", apperror.ErrValidation, err)
	}

	query := s.db.WithContext(ctx).Model(&Molecule{})
	query = patch.Contains(query, "name", filter.Name)
	query = patch.Contains(query, "formula", filter.Formula)

	molecules := make([]Molecule, 0)
	if err := query.Order("molecule_id").Offset(page.Skip).Limit(page.Limit).Find(&molecules).Error; err != nil {
		s.logError(opListMolecules, "query_failed", err)
		return nil, apperror.New(opListMolecules, "query_failed", apperror.ErrPersistence, err)
	}
	return molecules, nil
}

func (s *Service) GetMolecule(ctx context.Context, id uint64) (Molecule, error) {
	if err := s.requireDatabase(opGetMolecule); err != nil {
		return Molecule{}, err
	}
	var molecule Molecule
	err := s.take(ctx, opGetMolecule, &molecule, "molecule_id", id)
	return molecule, err
}

// MoleculeComposition lists the atoms of a molecule with their counts, lightest element first.
func (s *Service) MoleculeComposition(ctx context.Context, id uint64) (Composition, error) {
	if err := s.requireDatabase(opComposition); err != nil {
		return Composition{}, err
	}
	var molecule Molecule
	if err := s.take(ctx, opComposition, &molecule, "molecule_id", id); err != nil {
		return Composition{}, err
	}

	entries := make([]CompositionEntry, 0)
	err := s.db.WithContext(ctx).
		Table("molecule_atom").
		Select("atom.atom_id, atom.symbol, atom.name, molecule_atom.atom_count").
		Joins("JOIN atom ON atom.atom_id = molecule_atom.atom_id").
		Where("molecule_atom.molecule_id = ?", id).
		Order("atom.atomic_number").
		Scan(&entries).Error
	if err != nil {
		s.logError(opComposition, "query_failed", err, zap.Uint64("molecule_id", id))
		return Composition{}, apperror.New(opComposition, "query_failed", apperror.ErrPersistence, err)
	}

	return Composition{
		MoleculeID:   molecule.MoleculeID,
		MoleculeName: molecule.Name,
		Formula:      molecule.Formula,
		Entries:      entries,
	}, nil
}

// MoleculesContainingAtom finds the element by symbol, ignoring case, and lists molecules that contain it.
func (s *Service) MoleculesContainingAtom(ctx context.Context, symbol string) (AtomMolecules, error) {
	if err := s.requireDatabase(opMoleculesByAtom); err != nil {
		return AtomMolecules{}, err
	}

	var atom Atom
	err := patch.EqualFold(s.db.WithContext(ctx).Model(&Atom{}), "symbol", symbol).Order("atom_id").Take(&atom).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AtomMolecules{}, apperror.New(opMoleculesByAtom, "atom_not_found", apperror.ErrNotFound, nil)
	}
	if err != nil {
		s.logError(opMoleculesByAtom, "select_failed", err)
		return AtomMolecules{}, apperror.New(opMoleculesByAtom, "select_failed", apperror.ErrPersistence, err)
	}

	molecules := make([]Molecule, 0)
	err = s.db.WithContext(ctx).
		Model(&Molecule{}).
		Joins("JOIN molecule_atom ON molecule_atom.molecule_id = molecule.molecule_id").
		Where("molecule_atom.atom_id = ?", atom.AtomID).
		Order("molecule.molecule_id").
		Find(&molecules).Error
	if err != nil {
		s.logError(opMoleculesByAtom, "query_failed", err, zap.Uint64("atom_id", atom.AtomID))
		return AtomMolecules{}, apperror.New(opMoleculesByAtom, "query_failed", apperror.ErrPersistence, err)
	}

	return AtomMolecules{
		Atom:      AtomSummary{Symbol: atom.Symbol, Name: atom.Name},
		Molecules: molecules,
		Count:     len(molecules),
	}, nil
}

func (s *Service) UpdateMolecule(ctx context.Context, id uint64, update MoleculeUpdate) (Molecule, error) {
	if err := s.requireDatabase(opUpdateMolecule); err != nil {
		return Molecule{}, err
	}
	if err := update.validate(); err != nil {
		return Molecule{}, apperror.New(opUpdateMolecule, "invalid_payload", apperror.ErrValidation, err)
	}

	var set patch.Set
	patch.Field(&set, "name", update.Name)
	patch.Field(&set, "formula", update.Formula)

	var molecule Molecule
	if err := s.apply(ctx, opUpdateMolecule, &molecule, "molecule_id", id, set); err != nil {
		return Molecule{}, err
	}
	return molecule, nil
}

func (s *Service) ListReactions(ctx context.Context, filter ReactionFilter) ([]Reaction, error) {
	if err := s.requireDatabase(opListReactions); err != nil {
		return nil, err
	}
	page, err := filter.Page.normalize()
	if err != nil {
		return nil, apperror.New(opListReactions, "invalid_page", apperror.ErrValidation, err)
	}

	query := patch.Contains(s.db.WithContext(ctx).Model(&Reaction{}), "reaction_type", filter.Type)
	reactions := make([]Reaction, 0)
	if err := query.Order("reaction_id").Offset(page.Skip).Limit(page.Limit).Find(&reactions).Error; err != nil {
		s.logError(opListReactions, "query_failed", err)
		return nil, apperror.New(opListReactions, "query_failed", apperror.ErrPersistence, err)
	}
	return reactions, nil
}

func (s *Service) GetReaction(ctx context.Context, id uint64) (Reaction, error) {
	if err := s.requireDatabase(opGetReaction); err != nil {
		return Reaction{}, err
	}
	var reaction Reaction
	err := s.take(ctx, opGetReaction, &reaction, "reaction_id", id)
	return reaction, err
}

// ReactionParticipants splits the molecules of a reaction into reactants and products
// and renders the balanced equation.
func (s *Service) ReactionParticipants(ctx context.Context, id uint64) (Participants, error) {
	if err := s.requireDatabase(opParticipants); err != nil {
		return Participants{}, err
	}
	var reaction Reaction
	if err := s.take(ctx, opParticipants, &reaction, "reaction_id", id); err != nil {
		return Participants{}, err
	}

	rows := make([]Participant, 0)
	err := s.db.WithContext(ctx).
		Table("reaction_molecule").
		Select("molecule.molecule_id, molecule.name, molecule.formula, reaction_molecule.coefficient, reaction_molecule.role").
		Joins("JOIN molecule ON molecule.molecule_id = reaction_molecule.molecule_id").
		Where("reaction_molecule.reaction_id = ?", id).
		Order("molecule.molecule_id").
		Scan(&rows).Error
	if err != nil {
		s.logError(opParticipants, "query_failed", err, zap.Uint64("reaction_id", id))
		return Participants{}, apperror.New(opParticipants, "query_failed", apperror.ErrPersistence, err)
	}

	result := Participants{
		ReactionID:   reaction.ReactionID,
		Description:  reaction.Description,
		ReactionType: reaction.ReactionType,
		Reactants:    make([]Participant, 0),
		Products:     make([]Participant, 0),
	}
	for _, row := range rows {
		switch row.Role {
		case RoleReactant:
			result.Reactants = append(result.Reactants, row)
		case RoleProduct:
			result.Products = append(result.Products, row)
		}
	}
	result.Equation = FormatEquation(result.Reactants, result.Products)
	return result, nil
}

// ReactionsInvolvingMolecule lists reactions that use the molecule, optionally only in one role.
func (s *Service) ReactionsInvolvingMolecule(ctx context.Context, moleculeID uint64, role Role) (MoleculeReactions, error) {
	if err := s.requireDatabase(opReactionsByMolecule); err != nil {
		return MoleculeReactions{}, err
	}
	if _, err := ParseRole(string(role)); err != nil {
		return MoleculeReactions{}, apperror.New(opReactionsByMolecule, "invalid_role", apperror.ErrValidation, err)
	}
	var molecule Molecule
	if err := s.take(ctx, opReactionsByMolecule, &molecule, "molecule_id", moleculeID); err != nil {
		return MoleculeReactions{}, err
	}

	query := s.db.WithContext(ctx).
		Table("reaction").
		Select("reaction.reaction_id, reaction.description, reaction.reaction_type, reaction_molecule.role, reaction_molecule.coefficient").
		Joins("JOIN reaction_molecule ON reaction_molecule.reaction_id = reaction.reaction_id").
		Where("reaction_molecule.molecule_id = ?", moleculeID)
	if role != "" {
		query = query.Where("reaction_molecule.role = ?", role)
	}

	reactions := make([]MoleculeReaction, 0)
	if err := query.Order("reaction.reaction_id").Order("reaction_molecule.role").Scan(&reactions).Error; err != nil {
		s.logError(opReactionsByMolecule, "query_failed", err, zap.Uint64("molecule_id", moleculeID))
		return MoleculeReactions{}, apperror.New(opReactionsByMolecule, "query_failed", apperror.ErrPersistence, err)
	}

	return MoleculeReactions{
		Molecule:  molecule,
		Reactions: reactions,
		Count:     len(reactions),
	}, nil
}

// ReactionTypes returns the distinct non-empty reaction types in alphabetical order.
func (s *Service) ReactionTypes(ctx context.Context) (ReactionTypes, error) {
	if err := s.requireDatabase(opReactionTypes); err != nil {
		return ReactionTypes{}, err
	}

	types := make([]string, 0)
	err := s.db.WithContext(ctx).
		Model(&Reaction{}).
		Where("reaction_type <> ''").
		Distinct().
		Order("reaction_type").
		Pluck("reaction_type", &types).Error
	if err != nil {
		s.logError(opReactionTypes, "query_failed", err)
		return ReactionTypes{}, apperror.New(opReactionTypes, "query_failed", apperror.ErrPersistence, err)
	}
	return ReactionTypes{Types: types, Count: len(types)}, nil
}

func (s *Service) UpdateReaction(ctx context.Context, id uint64, update ReactionUpdate) (Reaction, error) {
	if err := s.requireDatabase(opUpdateReaction); err != nil {
		return Reaction{}, err
	}
	if err := update.validate(); err != nil {
		return Reaction{}, apperror.New(opUpdateReaction, "invalid_payload", apperror.ErrValidation, err)
	}

	var set patch.Set
	patch.Field(&set, "description", update.Description)
	patch.Field(&set, "reaction_type", update.ReactionType)

	var reaction Reaction
	if err := s.apply(ctx, opUpdateReaction, &reaction, "reaction_id", id, set); err != nil {
		return Reaction{}, err
	}
	return reaction, nil
}

// Stats counts the stored atoms, molecules and reactions.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	if err := s.requireDatabase(opStats); err != nil {
		return Stats{}, err
	}

	var stats Stats
	counts := []struct {
		model  any
		target *int64
	}{
		{model: &Atom{}, target: &stats.Atoms},
		{model: &Molecule{}, target: &stats.Molecules},
		{model: &Reaction{}, target: &stats.Reactions},
	}
	for _, count := range counts {
		if err := s.db.WithContext(ctx).Model(count.model).Count(count.target).Error; err != nil {
			s.logError(opStats, "count_failed", err)
			return Stats{}, apperror.New(opStats, "count_failed", apperror.ErrPersistence, err)
		}
	}
	return stats, nil
}

func (s *Service) take(ctx context.Context, operation string, model any, keyColumn string, id uint64) error {
	err := s.db.WithContext(ctx).Where(keyColumn+" = ?", id).Take(model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.New(operation, "not_found", apperror.ErrNotFound, nil)
	}
	if err != nil {
		s.logError(operation, "select_failed", err, zap.Uint64(keyColumn, id))
		return apperror.New(operation, "select_failed", apperror.ErrPersistence, err)
	}
	return nil
}

func (s *Service) apply(ctx context.Context, operation string, model any, keyColumn string, id uint64, set patch.Set) error {
	err := patch.Apply(ctx, s.db, patch.Request{
		Model:       model,
		KeyColumn:   keyColumn,
		Key:         id,
		Set:         set,
		EmptyPolicy: patch.EmptyRejected,
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, apperror.ErrPersistence) {
		s.logError(operation, "apply_failed", err, zap.Uint64(keyColumn, id), zap.Strings("columns", set.Columns()))
	}
	return apperror.Wrap(operation, "apply_failed", err)
}

func (s *Service) requireDatabase(operation string) error {
	if s == nil || s.db == nil {
		s.logError(operation, "missing_database", errMissingDatabase)
		return apperror.New(operation, "missing_database", apperror.ErrPersistence, errMissingDatabase)
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	logger := noOpLogger
	if s != nil && s.logger != nil {
		logger = s.logger
	}
	attrs := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	logger.Error("chemistry service error", attrs...)
}
