// Package model holds the value types shared by the resolver, the index
// reconciler and the sink: connection settings, index declarations, and
// the error kinds they report.
package model

const (
	// DefaultDatabaseName is used when the connection string does not
	// name a database.
	DefaultDatabaseName = "NLog"

	// DefaultCollectionName is used when the settings do not name a
	// collection.
	DefaultCollectionName = "Log"
)

// Settings describes the collection a sink writes to. The first three
// fields form the connection identity that collection resolution is
// memoized on; the capped fields only matter the first time a
// collection is resolved.
type Settings struct {
	ConnectionName   string `bson:"connection_name" json:"connection_name" yaml:"connection_name"`
	ConnectionString string `bson:"connection_string" json:"connection_string" yaml:"connection_string"`
	CollectionName   string `bson:"collection_name" json:"collection_name" yaml:"collection_name"`

	// CappedCollectionSize is the maximum size in bytes of a capped
	// collection. When nil the collection is not capped and is never
	// created explicitly.
	CappedCollectionSize *int64 `bson:"capped_size,omitempty" json:"capped_size,omitempty" yaml:"capped_size,omitempty"`

	// CappedCollectionMaxItems optionally bounds the number of
	// documents in a capped collection.
	CappedCollectionMaxItems *int64 `bson:"capped_max_items,omitempty" json:"capped_max_items,omitempty" yaml:"capped_max_items,omitempty"`
}

// IsCapped reports whether the settings request a capped collection.
func (s *Settings) IsCapped() bool { return s != nil && s.CappedCollectionSize != nil }

// EffectiveCollectionName returns the declared collection name or the
// default.
func (s *Settings) EffectiveCollectionName() string {
	if s == nil || s.CollectionName == "" {
		return DefaultCollectionName
	}
	return s.CollectionName
}
