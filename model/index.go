package model

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FieldKind is the kind of key a single field contributes to an index.
type FieldKind int

const (
	Ascending FieldKind = iota + 1
	Descending
	GeoHaystack
	Geo2D
	Geo2DSphere
	Hashed
	Text
)

var fieldKindNames = map[FieldKind]string{
	Ascending:   "Ascending",
	Descending:  "Descending",
	GeoHaystack: "GeoHaystack",
	Geo2D:       "Geo2D",
	Geo2DSphere: "Geo2DSphere",
	Hashed:      "Hashed",
	Text:        "Text",
}

func (k FieldKind) String() string {
	if name, ok := fieldKindNames[k]; ok {
		return name
	}
	return "FieldKind(" + strconv.Itoa(int(k)) + ")"
}

// IsValid reports whether k is one of the declared field kinds.
func (k FieldKind) IsValid() bool {
	_, ok := fieldKindNames[k]
	return ok
}

// ParseFieldKind converts a field kind name, ignoring case.
func ParseFieldKind(name string) (FieldKind, error) {
	for kind, n := range fieldKindNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return kind, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownFieldKind, "parsing %q", name)
}

// Behaviour selects what reconciliation does when a declared index name
// is already present on the collection.
type Behaviour int

const (
	// CreateNew fails reconciliation if the index already exists.
	CreateNew Behaviour = iota
	// CreateIfNotExists keeps the existing index untouched. Field lists
	// are not compared.
	CreateIfNotExists
	// Replace drops the existing index and creates the declared one.
	Replace
)

var behaviourNames = map[Behaviour]string{
	CreateNew:         "CreateNew",
	CreateIfNotExists: "CreateIfNotExists",
	Replace:           "Replace",
}

func (b Behaviour) String() string {
	if name, ok := behaviourNames[b]; ok {
		return name
	}
	return "Behaviour(" + strconv.Itoa(int(b)) + ")"
}

// ParseBehaviour converts a behaviour name, ignoring case. The empty
// string is CreateNew.
func ParseBehaviour(name string) (Behaviour, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return CreateNew, nil
	}
	for b, n := range behaviourNames {
		if strings.EqualFold(n, name) {
			return b, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownBehaviour, "parsing %q", name)
}

// IndexField is one key of a (possibly compound) index.
type IndexField struct {
	Name string    `bson:"name" json:"name" yaml:"name"`
	Kind FieldKind `bson:"kind" json:"kind" yaml:"kind"`
}

// IndexOptions mirrors the options of the createIndexes command. Nil
// fields are left to the server default.
type IndexOptions struct {
	Background         *bool    `bson:"background,omitempty" json:"background,omitempty" yaml:"background,omitempty"`
	Bits               *int32   `bson:"bits,omitempty" json:"bits,omitempty" yaml:"bits,omitempty"`
	BucketSize         *float64 `bson:"bucket_size,omitempty" json:"bucket_size,omitempty" yaml:"bucket_size,omitempty"`
	DefaultLanguage    *string  `bson:"default_language,omitempty" json:"default_language,omitempty" yaml:"default_language,omitempty"`
	LanguageOverride   *string  `bson:"language_override,omitempty" json:"language_override,omitempty" yaml:"language_override,omitempty"`
	Max                *float64 `bson:"max,omitempty" json:"max,omitempty" yaml:"max,omitempty"`
	Min                *float64 `bson:"min,omitempty" json:"min,omitempty" yaml:"min,omitempty"`
	Sparse             *bool    `bson:"sparse,omitempty" json:"sparse,omitempty" yaml:"sparse,omitempty"`
	SphereIndexVersion *int32   `bson:"sphere_index_version,omitempty" json:"sphere_index_version,omitempty" yaml:"sphere_index_version,omitempty"`
	TextIndexVersion   *int32   `bson:"text_index_version,omitempty" json:"text_index_version,omitempty" yaml:"text_index_version,omitempty"`
	Unique             *bool    `bson:"unique,omitempty" json:"unique,omitempty" yaml:"unique,omitempty"`
	Version            *int32   `bson:"version,omitempty" json:"version,omitempty" yaml:"version,omitempty"`
}

// IndexSpec declares one index the sink wants on its collection. The
// order of Fields is the key order of the compound index.
type IndexSpec struct {
	Name      string       `bson:"name" json:"name" yaml:"name"`
	Fields    []IndexField `bson:"fields" json:"fields" yaml:"fields"`
	Behaviour Behaviour    `bson:"behaviour" json:"behaviour" yaml:"behaviour"`
	Options   IndexOptions `bson:"options" json:"options" yaml:"options"`
}

// Validate checks the structural requirements of a declaration. It
// does not check for duplicate field names: the server rejects those.
func (s IndexSpec) Validate() error {
	if s.Name == "" {
		return ErrEmptyIndexName
	}
	if len(s.Fields) == 0 {
		return errors.Wrapf(ErrNoIndexFields, "index %q", s.Name)
	}
	for _, f := range s.Fields {
		if !f.Kind.IsValid() {
			return errors.Wrapf(ErrUnknownFieldKind, "field %q of index %q", f.Name, s.Name)
		}
	}
	return nil
}
