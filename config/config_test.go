package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mongodb/mongosink/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	t.Run("Complete", func(t *testing.T) {
		conf, err := LoadFile(filepath.Join("testdata", "sink.yaml"))
		require.NoError(t, err)
		require.NoError(t, conf.Validate())

		assert.Equal(t, "audit", conf.ConnectionName)
		assert.Equal(t, "mongodb://localhost:27017/audit", conf.ConnectionStrings["audit"])
		assert.Equal(t, "events", conf.CollectionName)
		assert.True(t, conf.IncludeDefaults)
		assert.True(t, conf.APM.Tracing)
		assert.True(t, conf.APM.Statements)
		assert.Equal(t, time.Minute, conf.APM.LogInterval)
		assert.Equal(t, []string{"insert", "createIndexes"}, conf.APM.Monitor.Commands)
		assert.Equal(t, []Field{{Name: "service", Value: "billing"}}, conf.Fields)

		settings := conf.Settings()
		assert.True(t, settings.IsCapped())
		assert.EqualValues(t, 1048576, *settings.CappedCollectionSize)
		assert.EqualValues(t, 5000, *settings.CappedCollectionMaxItems)

		specs, err := conf.IndexSpecs()
		require.NoError(t, err)
		require.Len(t, specs, 2)
		assert.Equal(t, model.CreateIfNotExists, specs[0].Behaviour)
		assert.Equal(t, []model.IndexField{{Name: "Date", Kind: model.Descending}}, specs[0].Fields)
		assert.Equal(t, model.Replace, specs[1].Behaviour)
		assert.Equal(t, []model.IndexField{
			{Name: "Level", Kind: model.Ascending},
			{Name: "Logger", Kind: model.Ascending},
		}, specs[1].Fields)
		require.NotNil(t, specs[1].Options.Background)
		assert.True(t, *specs[1].Options.Background)
		assert.Nil(t, specs[1].Options.Unique)
	})
	t.Run("Missing", func(t *testing.T) {
		_, err := LoadFile(filepath.Join("testdata", "missing.yaml"))
		assert.Error(t, err)
	})
	t.Run("Malformed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("indexes: {name: [\n"), 0600))
		_, err := LoadFile(path)
		assert.Error(t, err)
	})
	t.Run("DefaultsKept", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "min.yaml")
		require.NoError(t, os.WriteFile(path, []byte("connection_string: mongodb://localhost\n"), 0600))
		conf, err := LoadFile(path)
		require.NoError(t, err)
		assert.True(t, conf.IncludeDefaults)
		assert.True(t, conf.APM.Tracing)
		assert.False(t, conf.Settings().IsCapped())
		assert.Equal(t, model.DefaultCollectionName, conf.Settings().EffectiveCollectionName())
	})
}

func TestLoadEnv(t *testing.T) {
	t.Run("Variables", func(t *testing.T) {
		t.Setenv("MONGOSINK_CONNECTION_STRING", "mongodb://localhost:27017/app")
		t.Setenv("MONGOSINK_COLLECTION_NAME", "app_log")
		t.Setenv("MONGOSINK_CAPPED_COLLECTION_SIZE", "4096")
		t.Setenv("MONGOSINK_INCLUDE_DEFAULTS", "false")
		t.Setenv("MONGOSINK_APM_LOG_INTERVAL", "30s")

		conf, err := LoadEnv(filepath.Join(t.TempDir(), "absent.env"))
		require.NoError(t, err)
		assert.Equal(t, "mongodb://localhost:27017/app", conf.ConnectionString)
		assert.Equal(t, "app_log", conf.CollectionName)
		assert.EqualValues(t, 4096, conf.CappedCollectionSize)
		assert.False(t, conf.IncludeDefaults)
		assert.True(t, conf.APM.Tracing)
		assert.Equal(t, 30*time.Second, conf.APM.LogInterval)
		assert.NoError(t, conf.Validate())
	})
	t.Run("DotenvFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sink.env")
		require.NoError(t, os.WriteFile(path, []byte("MONGOSINK_CONNECTION_NAME=primary\nMONGOSINK_CAPPED_COLLECTION_MAX_ITEMS=10\n"), 0600))
		t.Cleanup(func() {
			_ = os.Unsetenv("MONGOSINK_CONNECTION_NAME")
			_ = os.Unsetenv("MONGOSINK_CAPPED_COLLECTION_MAX_ITEMS")
		})

		conf, err := LoadEnv(path)
		require.NoError(t, err)
		assert.Equal(t, "primary", conf.ConnectionName)
		assert.EqualValues(t, 10, conf.CappedCollectionMaxItems)
		err = conf.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires a capped collection size")
	})
	t.Run("InvalidValue", func(t *testing.T) {
		t.Setenv("MONGOSINK_CAPPED_COLLECTION_SIZE", "big")
		_, err := LoadEnv(filepath.Join(t.TempDir(), "absent.env"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Sink {
		conf := defaultSink()
		conf.ConnectionString = "mongodb://localhost"
		return conf
	}
	for name, test := range map[string]struct {
		mutate func(*Sink)
		errMsg string
	}{
		"Valid":               {mutate: func(*Sink) {}},
		"NameOnly":            {mutate: func(s *Sink) { s.ConnectionString, s.ConnectionName = "", "main" }},
		"NoConnection":        {mutate: func(s *Sink) { s.ConnectionString = "" }, errMsg: "connection string or a connection name"},
		"NegativeSize":        {mutate: func(s *Sink) { s.CappedCollectionSize = -1 }, errMsg: "size must not be negative"},
		"MaxItemsWithoutSize": {mutate: func(s *Sink) { s.CappedCollectionMaxItems = 10 }, errMsg: "requires a capped collection size"},
		"EmptyNamedString":    {mutate: func(s *Sink) { s.ConnectionStrings = map[string]string{"main": ""} }, errMsg: "'main' is empty"},
		"UnnamedField":        {mutate: func(s *Sink) { s.Fields = []Field{{Value: "x"}} }, errMsg: "field 0 has no name"},
		"UnknownKind": {
			mutate: func(s *Sink) {
				s.Indexes = []Index{{Name: "i", Fields: []IndexField{{Name: "a", Kind: "sideways"}}}}
			},
			errMsg: "field kind out of range",
		},
		"UnknownBehaviour": {
			mutate: func(s *Sink) {
				s.Indexes = []Index{{Name: "i", Behaviour: "overwrite", Fields: []IndexField{{Name: "a", Kind: "text"}}}}
			},
			errMsg: "behaviour out of range",
		},
		"IndexWithoutFields": {
			mutate: func(s *Sink) { s.Indexes = []Index{{Name: "i"}} },
			errMsg: "at least one field",
		},
		"DuplicateIndexNames": {
			mutate: func(s *Sink) {
				idx := Index{Name: "i", Fields: []IndexField{{Name: "a", Kind: "hashed"}}}
				s.Indexes = []Index{idx, idx}
			},
			errMsg: "declared more than once",
		},
	} {
		t.Run(name, func(t *testing.T) {
			conf := valid()
			test.mutate(conf)
			err := conf.Validate()
			if test.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.errMsg)
		})
	}
}

func TestIndexSpec(t *testing.T) {
	t.Run("EmptyBehaviourIsCreateNew", func(t *testing.T) {
		spec, err := Index{Name: "i", Fields: []IndexField{{Name: "a", Kind: "geo2dsphere"}}}.Spec()
		require.NoError(t, err)
		assert.Equal(t, model.CreateNew, spec.Behaviour)
		assert.Equal(t, model.Geo2DSphere, spec.Fields[0].Kind)
	})
	t.Run("KindErrorKeepsCause", func(t *testing.T) {
		_, err := Index{Name: "i", Fields: []IndexField{{Name: "a", Kind: "up"}}}.Spec()
		assert.True(t, errors.Is(err, model.ErrUnknownFieldKind))
	})
}
