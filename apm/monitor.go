/*
Package apm observes the commands the sink sends to MongoDB.

Two driver command monitors are provided: a tracing monitor that turns
every command into an OpenTelemetry client span, and a counting Monitor
that aggregates success and failure counts and durations per database,
collection and command into windows that can be rotated and logged.
Combine joins several driver monitors into one so both can be attached
to the same client.
*/
package apm

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mongodb/grip/message"
	"go.mongodb.org/mongo-driver/v2/event"
)

// Monitor aggregates driver command events.
type Monitor interface {
	DriverAPM() *event.CommandMonitor
	// Rotate closes the current window, returns it and starts a new
	// one.
	Rotate() Event
}

// Event is one closed window of command statistics.
type Event interface {
	Counts() []CommandCount
	Message() message.Composer
}

// CommandCount is the aggregate for one database, collection and
// command within a window.
type CommandCount struct {
	Database   string        `json:"database" yaml:"database"`
	Collection string        `json:"collection,omitempty" yaml:"collection,omitempty"`
	Command    string        `json:"command" yaml:"command"`
	Succeeded  int64         `json:"succeeded" yaml:"succeeded"`
	Failed     int64         `json:"failed" yaml:"failed"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

type basicMonitor struct {
	config *MonitorConfig

	inProg     map[int64]eventKey
	inProgLock sync.Mutex

	current        map[eventKey]*eventRecord
	currentStartAt time.Time
	currentLock    sync.Mutex
}

type eventKey struct {
	dbName   string
	cmdName  string
	collName string
}

type eventRecord struct {
	failCount    int64
	successCount int64
	durationTime time.Duration
	mutex        sync.Mutex
}

// NewBasicMonitor returns a counting Monitor. A nil config records
// every command.
func NewBasicMonitor(config *MonitorConfig) Monitor {
	return &basicMonitor{
		config:         config,
		inProg:         make(map[int64]eventKey),
		current:        config.window(),
		currentStartAt: time.Now(),
	}
}

func (m *basicMonitor) setRequest(id int64, key eventKey) {
	if !m.config.shouldTrack(key) {
		return
	}

	m.inProgLock.Lock()
	defer m.inProgLock.Unlock()

	m.inProg[id] = key
}

func (m *basicMonitor) popRequest(id int64) (eventKey, bool) {
	m.inProgLock.Lock()
	defer m.inProgLock.Unlock()

	out, ok := m.inProg[id]
	delete(m.inProg, id)
	return out, ok
}

func (m *basicMonitor) getRecord(id int64) *eventRecord {
	key, ok := m.popRequest(id)
	if !ok {
		return nil
	}

	m.currentLock.Lock()
	defer m.currentLock.Unlock()

	record := m.current[key]
	if record == nil {
		record = &eventRecord{}
		m.current[key] = record
	}

	return record
}

func (m *basicMonitor) handleStartedEvent(ctx context.Context, e *event.CommandStartedEvent) {
	key := eventKey{
		dbName:  e.DatabaseName,
		cmdName: e.CommandName,
	}
	key.collName, _ = extractCollection(e)

	m.setRequest(e.RequestID, key)
}

func (m *basicMonitor) handleSucceededEvent(ctx context.Context, e *event.CommandSucceededEvent) {
	record := m.getRecord(e.RequestID)
	if record == nil {
		return
	}

	record.mutex.Lock()
	defer record.mutex.Unlock()

	record.successCount++
	record.durationTime += e.Duration
}

func (m *basicMonitor) handleFailedEvent(ctx context.Context, e *event.CommandFailedEvent) {
	record := m.getRecord(e.RequestID)
	if record == nil {
		return
	}

	record.mutex.Lock()
	defer record.mutex.Unlock()

	record.failCount++
	record.durationTime += e.Duration
}

func (m *basicMonitor) DriverAPM() *event.CommandMonitor {
	return &event.CommandMonitor{
		Started:   m.handleStartedEvent,
		Succeeded: m.handleSucceededEvent,
		Failed:    m.handleFailedEvent,
	}
}

func (m *basicMonitor) Rotate() Event {
	m.currentLock.Lock()
	defer m.currentLock.Unlock()

	now := time.Now()
	out := &eventWindow{
		startAt: m.currentStartAt,
		endAt:   now,
		data:    m.current,
	}
	m.current = m.config.window()
	m.currentStartAt = now

	return out
}

type eventWindow struct {
	startAt time.Time
	endAt   time.Time
	data    map[eventKey]*eventRecord
}

func (w *eventWindow) Counts() []CommandCount {
	out := make([]CommandCount, 0, len(w.data))
	for key, record := range w.data {
		record.mutex.Lock()
		out = append(out, CommandCount{
			Database:   key.dbName,
			Collection: key.collName,
			Command:    key.cmdName,
			Succeeded:  record.successCount,
			Failed:     record.failCount,
			Duration:   record.durationTime,
		})
		record.mutex.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Database != out[j].Database {
			return out[i].Database < out[j].Database
		}
		if out[i].Collection != out[j].Collection {
			return out[i].Collection < out[j].Collection
		}
		return out[i].Command < out[j].Command
	})

	return out
}

func (w *eventWindow) Message() message.Composer {
	counts := w.Counts()
	var succeeded, failed int64
	for _, c := range counts {
		succeeded += c.Succeeded
		failed += c.Failed
	}

	return message.MakeFields(message.Fields{
		"message":   "driver command statistics",
		"start":     w.startAt,
		"end":       w.endAt,
		"succeeded": succeeded,
		"failed":    failed,
		"commands":  counts,
	})
}
