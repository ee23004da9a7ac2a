package apm

import "github.com/evergreen-ci/utility"

// MonitorConfig restricts which commands a counting monitor records.
// Empty lists match everything.
type MonitorConfig struct {
	// PopulateEvents pre-creates zeroed records for every combination
	// of the listed databases, collections and commands so that idle
	// combinations are still reported.
	PopulateEvents bool     `yaml:"populate_events" json:"populate_events"`
	Commands       []string `yaml:"commands" json:"commands"`
	Databases      []string `yaml:"databases" json:"databases"`
	Collections    []string `yaml:"collections" json:"collections"`
}

func (c *MonitorConfig) shouldTrack(e eventKey) bool {
	if c == nil {
		return true
	}

	if len(c.Databases) > 0 && !utility.StringSliceContains(c.Databases, e.dbName) {
		return false
	}

	if len(c.Collections) > 0 && !utility.StringSliceContains(c.Collections, e.collName) {
		return false
	}

	if len(c.Commands) > 0 && !utility.StringSliceContains(c.Commands, e.cmdName) {
		return false
	}

	return true
}

func (c *MonitorConfig) window() map[eventKey]*eventRecord {
	out := make(map[eventKey]*eventRecord)
	if c == nil || !c.PopulateEvents {
		return out
	}

	for _, db := range c.Databases {
		for _, coll := range c.Collections {
			for _, cmd := range c.Commands {
				out[eventKey{dbName: db, collName: coll, cmdName: cmd}] = &eventRecord{}
			}
		}
	}

	return out
}
