/*
Package config reads sink configuration from YAML files and from the
environment and converts it into the values the sink core consumes.
*/
package config

import (
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/evergreen-ci/utility"
	"github.com/joho/godotenv"
	"github.com/mongodb/grip"
	"github.com/mongodb/mongosink/apm"
	"github.com/mongodb/mongosink/model"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Sink is the declarative configuration of one sink.
type Sink struct {
	// ConnectionName selects an entry of ConnectionStrings, or of the
	// connection strings registered with the environment, when
	// ConnectionString is blank.
	ConnectionName    string            `yaml:"connection_name" env:"MONGOSINK_CONNECTION_NAME"`
	ConnectionString  string            `yaml:"connection_string" env:"MONGOSINK_CONNECTION_STRING"`
	ConnectionStrings map[string]string `yaml:"connection_strings"`

	CollectionName string `yaml:"collection_name" env:"MONGOSINK_COLLECTION_NAME"`
	// CappedCollectionSize, in bytes, makes the collection capped when
	// positive. CappedCollectionMaxItems is only meaningful with it.
	CappedCollectionSize     int64 `yaml:"capped_collection_size" env:"MONGOSINK_CAPPED_COLLECTION_SIZE"`
	CappedCollectionMaxItems int64 `yaml:"capped_collection_max_items" env:"MONGOSINK_CAPPED_COLLECTION_MAX_ITEMS"`

	IncludeDefaults bool    `yaml:"include_defaults" env:"MONGOSINK_INCLUDE_DEFAULTS" envDefault:"true"`
	Fields          []Field `yaml:"fields"`
	Indexes         []Index `yaml:"indexes"`

	APM APM `yaml:"apm"`
}

// Field is a constant field added to every written document.
type Field struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// Index declares an index by names, parsed when converted.
type Index struct {
	Name      string             `yaml:"name"`
	Behaviour string             `yaml:"behaviour"`
	Fields    []IndexField       `yaml:"fields"`
	Options   model.IndexOptions `yaml:"options"`
}

type IndexField struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
}

// APM configures driver command monitoring.
type APM struct {
	Tracing     bool              `yaml:"tracing" env:"MONGOSINK_APM_TRACING" envDefault:"true"`
	Statements  bool              `yaml:"statements" env:"MONGOSINK_APM_STATEMENTS"`
	LogInterval time.Duration     `yaml:"log_interval" env:"MONGOSINK_APM_LOG_INTERVAL"`
	Monitor     apm.MonitorConfig `yaml:"monitor"`
}

func defaultSink() *Sink {
	return &Sink{
		IncludeDefaults: true,
		APM:             APM{Tracing: true},
	}
}

// LoadFile reads a YAML configuration file. Keys absent from the file
// keep their defaults.
func LoadFile(path string) (*Sink, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file '%s'", path)
	}

	conf := defaultSink()
	if err = yaml.Unmarshal(data, conf); err != nil {
		return nil, errors.Wrapf(err, "parsing config file '%s'", path)
	}

	return conf, nil
}

// LoadEnv reads the configuration from MONGOSINK_* environment
// variables after loading the given dotenv files, or ".env" when none
// are given. Missing dotenv files are ignored; variables already set
// in the environment take precedence over them.
func LoadEnv(files ...string) (*Sink, error) {
	if err := godotenv.Load(files...); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrap(err, "loading dotenv file")
		}
		grip.Debug(errors.Wrap(err, "skipping dotenv file"))
	}

	conf := defaultSink()
	if err := env.Parse(conf); err != nil {
		return nil, errors.Wrap(err, "parsing environment")
	}

	return conf, nil
}

// Validate checks the configuration without contacting any server.
func (s *Sink) Validate() error {
	catcher := grip.NewCatcher()

	catcher.NewWhen(s.ConnectionString == "" && s.ConnectionName == "", "must specify a connection string or a connection name")
	catcher.NewWhen(s.CappedCollectionSize < 0, "capped collection size must not be negative")
	catcher.NewWhen(s.CappedCollectionMaxItems < 0, "capped collection max items must not be negative")
	catcher.NewWhen(s.CappedCollectionMaxItems > 0 && s.CappedCollectionSize == 0, "capped collection max items requires a capped collection size")
	catcher.NewWhen(s.APM.LogInterval < 0, "apm log interval must not be negative")

	for name, cs := range s.ConnectionStrings {
		catcher.ErrorfWhen(name == "", "connection string names must not be empty")
		catcher.ErrorfWhen(cs == "", "connection string '%s' is empty", name)
	}

	for idx, f := range s.Fields {
		catcher.ErrorfWhen(f.Name == "", "field %d has no name", idx)
	}

	if _, err := s.IndexSpecs(); err != nil {
		catcher.Add(err)
	}

	return catcher.Resolve()
}

// Settings converts the connection and collection configuration.
func (s *Sink) Settings() *model.Settings {
	settings := &model.Settings{
		ConnectionName:   s.ConnectionName,
		ConnectionString: s.ConnectionString,
		CollectionName:   s.CollectionName,
	}
	if s.CappedCollectionSize > 0 {
		settings.CappedCollectionSize = utility.ToInt64Ptr(s.CappedCollectionSize)
	}
	if s.CappedCollectionMaxItems > 0 {
		settings.CappedCollectionMaxItems = utility.ToInt64Ptr(s.CappedCollectionMaxItems)
	}

	return settings
}

// IndexSpecs parses the declared indexes. Index names must be unique.
func (s *Sink) IndexSpecs() ([]model.IndexSpec, error) {
	specs := make([]model.IndexSpec, 0, len(s.Indexes))
	seen := make(map[string]struct{}, len(s.Indexes))
	for _, idx := range s.Indexes {
		spec, err := idx.Spec()
		if err != nil {
			return nil, err
		}
		if _, ok := seen[spec.Name]; ok {
			return nil, errors.Errorf("index '%s' is declared more than once", spec.Name)
		}
		seen[spec.Name] = struct{}{}
		specs = append(specs, spec)
	}

	return specs, nil
}

// Spec parses one index declaration.
func (i Index) Spec() (model.IndexSpec, error) {
	behaviour, err := model.ParseBehaviour(i.Behaviour)
	if err != nil {
		return model.IndexSpec{}, errors.Wrapf(err, "index '%s'", i.Name)
	}

	spec := model.IndexSpec{
		Name:      i.Name,
		Behaviour: behaviour,
		Options:   i.Options,
		Fields:    make([]model.IndexField, 0, len(i.Fields)),
	}
	for _, f := range i.Fields {
		kind, err := model.ParseFieldKind(f.Kind)
		if err != nil {
			return model.IndexSpec{}, errors.Wrapf(err, "index '%s' field '%s'", i.Name, f.Name)
		}
		spec.Fields = append(spec.Fields, model.IndexField{Name: f.Name, Kind: kind})
	}

	if err = spec.Validate(); err != nil {
		return model.IndexSpec{}, err
	}

	return spec, nil
}
