package db

import "go.mongodb.org/mongo-driver/v2/bson"

// CollectionOptions are the creation options for an explicitly created
// collection.
type CollectionOptions struct {
	Capped       bool   // Create a fixed-size collection
	MaxSize      int64  // Maximum size in bytes; required when Capped
	MaxDocuments *int64 // Maximum number of documents; optional
}

// IndexModel is one entry of a createIndexes command.
type IndexModel struct {
	Name    string // Index name; identity for reconciliation
	Keys    bson.D // Key document, in declared field order
	Options bson.D // Additional index options, appended verbatim
}
