package indexes

import (
	"github.com/mongodb/mongosink/db"
	"github.com/mongodb/mongosink/model"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// KeyValue returns the value a field of the given kind takes in an
// index key document.
func KeyValue(kind model.FieldKind) (interface{}, error) {
	switch kind {
	case model.Ascending:
		return int32(1), nil
	case model.Descending:
		return int32(-1), nil
	case model.GeoHaystack:
		return "geoHaystack", nil
	case model.Geo2D:
		return "2d", nil
	case model.Geo2DSphere:
		return "2dsphere", nil
	case model.Hashed:
		return "hashed", nil
	case model.Text:
		return "text", nil
	default:
		return nil, errors.Wrapf(model.ErrUnknownFieldKind, "kind %d", int(kind))
	}
}

// Keys builds the key document for fields, in order. Repeated field
// names are kept as they are; the server rejects them.
func Keys(fields []model.IndexField) (bson.D, error) {
	if len(fields) == 0 {
		return nil, model.ErrNoIndexFields
	}

	keys := make(bson.D, 0, len(fields))
	for _, f := range fields {
		value, err := KeyValue(f.Kind)
		if err != nil {
			return nil, errors.Wrapf(err, "field '%s'", f.Name)
		}
		keys = append(keys, bson.E{Key: f.Name, Value: value})
	}

	return keys, nil
}

// Options renders the declared options as createIndexes option
// fields. Unset options are omitted.
func Options(opts model.IndexOptions) bson.D {
	out := bson.D{}
	add := func(key string, value interface{}) { out = append(out, bson.E{Key: key, Value: value}) }

	if opts.Background != nil {
		add("background", *opts.Background)
	}
	if opts.Bits != nil {
		add("bits", *opts.Bits)
	}
	if opts.BucketSize != nil {
		add("bucketSize", *opts.BucketSize)
	}
	if opts.DefaultLanguage != nil {
		add("default_language", *opts.DefaultLanguage)
	}
	if opts.LanguageOverride != nil {
		add("language_override", *opts.LanguageOverride)
	}
	if opts.Max != nil {
		add("max", *opts.Max)
	}
	if opts.Min != nil {
		add("min", *opts.Min)
	}
	if opts.Sparse != nil {
		add("sparse", *opts.Sparse)
	}
	if opts.SphereIndexVersion != nil {
		add("2dsphereIndexVersion", *opts.SphereIndexVersion)
	}
	if opts.TextIndexVersion != nil {
		add("textIndexVersion", *opts.TextIndexVersion)
	}
	if opts.Unique != nil {
		add("unique", *opts.Unique)
	}
	if opts.Version != nil {
		add("v", *opts.Version)
	}

	return out
}

// Model converts a declaration into the index model sent to the
// server.
func Model(spec model.IndexSpec) (db.IndexModel, error) {
	if spec.Name == "" {
		return db.IndexModel{}, model.ErrEmptyIndexName
	}

	keys, err := Keys(spec.Fields)
	if err != nil {
		return db.IndexModel{}, errors.Wrapf(err, "index '%s'", spec.Name)
	}

	return db.IndexModel{
		Name:    spec.Name,
		Keys:    keys,
		Options: Options(spec.Options),
	}, nil
}
