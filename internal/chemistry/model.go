package chemistry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agora-labs/agora/internal/apperror"
)

const (
	// DefaultPageLimit applies when a listing omits its limit.
	DefaultPageLimit = 100
	// MaxPageLimit caps a single listing page.
	MaxPageLimit = 1000
)

// Role is the part a molecule plays in a reaction.
type Role string

const (
	RoleReactant Role = "reactant"
	RoleProduct  Role = "product"
)

// ParseRole accepts an empty value (no role filter) or one of the two roles.
func ParseRole(raw string) (Role, error) {
	switch role := Role(strings.TrimSpace(raw)); role {
	case "", RoleReactant, RoleProduct:
		return role, nil
	default:
		return "", fmt.Errorf("%w: role must be %q or %q", apperror.ErrValidation, RoleReactant, RoleProduct)
	}
}

// ParseID validates a positive numeric path parameter no larger than MaxInt64.
func ParseID(entity, rawInput string) (uint64, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(rawInput), 10, 63)
	if err != nil || value == 0 {
		return 0, fmt.Errorf("%w: invalid %s id %q", apperror.ErrValidation, entity, rawInput)
	}
	return value, nil
}

type Atom struct {
	AtomID       uint64  `gorm:"column:atom_id;primaryKey;autoIncrement" json:"atom_id"`
	Symbol       string  `gorm:"column:symbol;size:5;not null;uniqueIndex:idx_atom_symbol" json:"symbol"`
	Name         string  `gorm:"column:name;size:100;not null" json:"name"`
	AtomicNumber int     `gorm:"column:atomic_number;not null;uniqueIndex:idx_atom_atomic_number;check:atomic_number > 0" json:"atomic_number"`
	AtomicMass   float64 `gorm:"column:atomic_mass;not null;check:atomic_mass > 0" json:"atomic_mass"`
}

func (Atom) TableName() string {
	return "atom"
}

type Molecule struct {
	MoleculeID uint64 `gorm:"column:molecule_id;primaryKey;autoIncrement" json:"molecule_id"`
	Name       string `gorm:"column:name;size:200;not null" json:"name"`
	Formula    string `gorm:"column:formula;size:500;not null" json:"formula"`
}

func (Molecule) TableName() string {
	return "molecule"
}

// MoleculeAtom records how many atoms of one element a molecule holds.
type MoleculeAtom struct {
	MoleculeID uint64    `gorm:"column:molecule_id;primaryKey;autoIncrement:false" json:"molecule_id"`
	AtomID     uint64    `gorm:"column:atom_id;primaryKey;autoIncrement:false" json:"atom_id"`
	AtomCount  int       `gorm:"column:atom_count;not null;check:atom_count > 0" json:"atom_count"`
	Molecule   *Molecule `gorm:"foreignKey:MoleculeID;references:MoleculeID;constraint:OnDelete:CASCADE" json:"-"`
	Atom       *Atom     `gorm:"foreignKey:AtomID;references:AtomID;constraint:OnDelete:RESTRICT" json:"-"`
}

func (MoleculeAtom) TableName() string {
	return "molecule_atom"
}

type Reaction struct {
	ReactionID   uint64 `gorm:"column:reaction_id;primaryKey;autoIncrement" json:"reaction_id"`
	Description  string `gorm:"column:description;type:text;not null" json:"description"`
	ReactionType string `gorm:"column:reaction_type;size:100;not null;index:idx_reaction_type" json:"reaction_type"`
}

func (Reaction) TableName() string {
	return "reaction"
}

// ReactionMolecule links a molecule to a reaction in a given role.
type ReactionMolecule struct {
	ReactionID  uint64    `gorm:"column:reaction_id;primaryKey;autoIncrement:false" json:"reaction_id"`
	MoleculeID  uint64    `gorm:"column:molecule_id;primaryKey;autoIncrement:false" json:"molecule_id"`
	Role        Role      `gorm:"column:role;primaryKey;size:16;check:role IN ('reactant', 'product')" json:"role"`
	Coefficient int       `gorm:"column:coefficient;not null;check:coefficient > 0" json:"coefficient"`
	Reaction    *Reaction `gorm:"foreignKey:ReactionID;references:ReactionID;constraint:OnDelete:CASCADE" json:"-"`
	Molecule    *Molecule `gorm:"foreignKey:MoleculeID;references:MoleculeID;constraint:OnDelete:RESTRICT" json:"-"`
}

func (ReactionMolecule) TableName() string {
	return "reaction_molecule"
}

// Models lists every chemistry table for schema migration.
func Models() []any {
	return []any{&Atom{}, &Molecule{}, &MoleculeAtom{}, &Reaction{}, &ReactionMolecule{}}
}

// Page bounds a listing. A zero Limit means DefaultPageLimit.
type Page struct {
	Skip  int
	Limit int
}

func (p Page) normalize() (Page, error) {
	if p.Skip < 0 {
		return Page{}, fmt.Errorf("%w: skip must be >= 0", apperror.ErrValidation)
	}
	if p.Limit == 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit < 1 || p.Limit > MaxPageLimit {
		return Page{}, fmt.Errorf("%w: limit must be between 1 and %d", apperror.ErrValidation, MaxPageLimit)
	}
	return p, nil
}

// AtomFilter matches atoms whose symbol contains Symbol, ignoring case.
type AtomFilter struct {
	Symbol string
	Page   Page
}

type MoleculeFilter struct {
	Name    string
	Formula string
	Page    Page
}

type ReactionFilter struct {
	Type string
	Page Page
}

// AtomUpdate is a sparse atom update. Nil fields are left untouched.
type AtomUpdate struct {
	Symbol       *string
	Name         *string
	AtomicNumber *int
	AtomicMass   *float64
}

func (u AtomUpdate) validate() error {
	if u.Symbol != nil && (strings.TrimSpace(*u.Symbol) == "" || len(*u.Symbol) > 5) {
		return fmt.Errorf("%w: symbol must be 1 to 5 characters", apperror.ErrValidation)
	}
	if u.Name != nil && len(*u.Name) > 100 {
		return fmt.Errorf("%w: name must be at most 100 characters", apperror.ErrValidation)
	}
	if u.AtomicNumber != nil && *u.AtomicNumber <= 0 {
		return fmt.Errorf("%w: atomic_number must be positive", apperror.ErrValidation)
	}
	if u.AtomicMass != nil && *u.AtomicMass <= 0 {
		return fmt.Errorf("%w: atomic_mass must be positive", apperror.ErrValidation)
	}
	return nil
}

type MoleculeUpdate struct {
	Name    *string
	Formula *string
}

func (u MoleculeUpdate) validate() error {
	if u.Name != nil && len(*u.Name) > 200 {
		return fmt.Errorf("%w: name must be at most 200 characters", apperror.ErrValidation)
	}
	if u.Formula != nil && len(*u.Formula) > 500 {
		return fmt.Errorf("%w: formula must be at most 500 characters", apperror.ErrValidation)
	}
	return nil
}

type ReactionUpdate struct {
	Description  *string
	ReactionType *string
}

func (u ReactionUpdate) validate() error {
	if u.ReactionType != nil && len(*u.ReactionType) > 100 {
		return fmt.Errorf("%w: reaction_type must be at most 100 characters", apperror.ErrValidation)
	}
	return nil
}

// CompositionEntry is one element of a molecule with its count.
type CompositionEntry struct {
	AtomID uint64 `gorm:"column:atom_id" json:"atom_id"`
	Symbol string `gorm:"column:symbol" json:"symbol"`
	Name   string `gorm:"column:name" json:"name"`
	Count  int    `gorm:"column:atom_count" json:"count"`
}

type Composition struct {
	MoleculeID   uint64             `json:"molecule_id"`
	MoleculeName string             `json:"molecule_name"`
	Formula      string             `json:"formula"`
	Entries      []CompositionEntry `json:"composition"`
}

type AtomSummary struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// AtomMolecules lists the molecules that contain one element.
type AtomMolecules struct {
	Atom      AtomSummary `json:"atom"`
	Molecules []Molecule  `json:"molecules"`
	Count     int         `json:"count"`
}

// Participant is a molecule taking part in a reaction with its coefficient.
type Participant struct {
	MoleculeID  uint64 `gorm:"column:molecule_id" json:"molecule_id"`
	Name        string `gorm:"column:name" json:"name"`
	Formula     string `gorm:"column:formula" json:"formula"`
	Coefficient int    `gorm:"column:coefficient" json:"coefficient"`
	Role        Role   `gorm:"column:role" json:"-"`
}

type Participants struct {
	ReactionID   uint64        `json:"reaction_id"`
	Description  string        `json:"description"`
	ReactionType string        `json:"reaction_type"`
	Reactants    []Participant `json:"reactants"`
	Products     []Participant `json:"products"`
	Equation     string        `json:"equation"`
}

type MoleculeReaction struct {
	ReactionID   uint64 `gorm:"column:reaction_id" json:"reaction_id"`
	Description  string `gorm:"column:description" json:"description"`
	ReactionType string `gorm:"column:reaction_type" json:"reaction_type"`
	MoleculeRole Role   `gorm:"column:role" json:"molecule_role"`
	Coefficient  int    `gorm:"column:coefficient" json:"coefficient"`
}

// MoleculeReactions lists the reactions one molecule takes part in.
type MoleculeReactions struct {
	Molecule  Molecule           `json:"molecule"`
	Reactions []MoleculeReaction `json:"reactions"`
	Count     int                `json:"count"`
}

type ReactionTypes struct {
	Types []string `json:"reaction_types"`
	Count int      `json:"count"`
}

type Stats struct {
	Atoms     int64 `json:"atoms"`
	Molecules int64 `json:"molecules"`
	Reactions int64 `json:"reactions"`
}

// FormatEquation renders "2H2 + O2 → 2H2O", omitting coefficients of one.
func FormatEquation(reactants, products []Participant) string {
	return formatSide(reactants) + " → " + formatSide(products)
}

func formatSide(participants []Participant) string {
	terms := make([]string, 0, len(participants))
	for _, participant := range participants {
		if participant.Coefficient == 1 {
			terms = append(terms, participant.Formula)
			continue
		}
		terms = append(terms, strconv.Itoa(participant.Coefficient)+participant.Formula)
	}
	return strings.Join(terms, " + ")
}
