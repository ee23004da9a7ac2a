// Copyright The OpenTelemetry Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/evergreen-ci/utility"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/sometimes"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/event"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTracerName          = "github.com/mongodb/mongosink/apm"
	responseBytesAttribute     = "db.response_bytes"
	strippedStatementAttribute = "db.statement.stripped"
)

type tracingConfig struct {
	tracerProvider   trace.TracerProvider
	tracer           trace.Tracer
	statementEnabled bool
	transform        CommandTransformer
}

// Option configures the tracing monitor.
type Option func(*tracingConfig)

// WithTracerProvider sets the provider spans are created from. The
// global provider is used otherwise.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(cfg *tracingConfig) {
		if provider != nil {
			cfg.tracerProvider = provider
		}
	}
}

// WithStatement adds the command, and a copy stripped of its values,
// as span attributes. Statements are not recorded by default because
// inserted log documents may carry sensitive data.
func WithStatement(enabled bool) Option {
	return func(cfg *tracingConfig) { cfg.statementEnabled = enabled }
}

// CommandTransformer rewrites a command before it is recorded as a
// statement. Returning nil omits the statement.
type CommandTransformer func(command bson.Raw) bson.Raw

// WithCommandTransformer sets the statement transformer. A nil
// transformer records commands unchanged.
func WithCommandTransformer(transformer CommandTransformer) Option {
	return func(cfg *tracingConfig) {
		if transformer == nil {
			transformer = func(command bson.Raw) bson.Raw { return command }
		}
		cfg.transform = transformer
	}
}

type spanKey struct {
	connectionID string
	requestID    int64
}

type tracingMonitor struct {
	mu    sync.Mutex
	spans map[spanKey]trace.Span
	cfg   tracingConfig
}

// NewTracingMonitor returns a driver command monitor that records every
// command as a client span named "<collection>.<command>".
func NewTracingMonitor(opts ...Option) *event.CommandMonitor {
	cfg := tracingConfig{
		tracerProvider: otel.GetTracerProvider(),
		transform:      func(command bson.Raw) bson.Raw { return command },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.tracer = cfg.tracerProvider.Tracer(defaultTracerName)

	m := &tracingMonitor{
		spans: make(map[spanKey]trace.Span),
		cfg:   cfg,
	}
	return &event.CommandMonitor{
		Started:   m.started,
		Succeeded: m.succeeded,
		Failed:    m.failed,
	}
}

func (m *tracingMonitor) started(ctx context.Context, evt *event.CommandStartedEvent) {
	hostname, port := peerInfo(evt.ConnectionID)
	attrs := []attribute.KeyValue{
		semconv.DBSystemMongoDB,
		semconv.DBOperation(evt.CommandName),
		semconv.DBName(evt.DatabaseName),
		semconv.NetPeerName(hostname),
		semconv.NetPeerPort(port),
		semconv.NetTransportTCP,
	}
	if m.cfg.statementEnabled {
		statement, err := m.statementAttributes(evt)
		if err == nil {
			attrs = append(attrs, statement...)
		} else {
			grip.ErrorWhen(sometimes.Percent(10), errors.Wrapf(err, "getting statement of '%s'", evt.CommandName))
		}
	}

	spanName := evt.CommandName
	if collection, err := extractCollection(evt); err == nil && collection != "" {
		spanName = collection + "." + spanName
		attrs = append(attrs, semconv.DBMongoDBCollection(collection))
	}

	_, span := m.cfg.tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)

	m.mu.Lock()
	m.spans[spanKey{connectionID: evt.ConnectionID, requestID: evt.RequestID}] = span
	m.mu.Unlock()
}

func (m *tracingMonitor) succeeded(ctx context.Context, evt *event.CommandSucceededEvent) {
	span, ok := m.popSpan(&evt.CommandFinishedEvent)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int(responseBytesAttribute, len(evt.Reply)))
	span.End()
}

func (m *tracingMonitor) failed(ctx context.Context, evt *event.CommandFailedEvent) {
	span, ok := m.popSpan(&evt.CommandFinishedEvent)
	if !ok {
		return
	}
	if evt.Failure != nil {
		span.SetStatus(codes.Error, evt.Failure.Error())
	} else {
		span.SetStatus(codes.Error, "command failed")
	}
	span.End()
}

func (m *tracingMonitor) popSpan(evt *event.CommandFinishedEvent) (trace.Span, bool) {
	key := spanKey{connectionID: evt.ConnectionID, requestID: evt.RequestID}

	m.mu.Lock()
	defer m.mu.Unlock()

	span, ok := m.spans[key]
	if ok {
		delete(m.spans, key)
	}
	return span, ok
}

func (m *tracingMonitor) statementAttributes(evt *event.CommandStartedEvent) ([]attribute.KeyValue, error) {
	command := m.cfg.transform(evt.Command)
	if command == nil {
		return nil, nil
	}

	section, err := operationSection(evt.CommandName, command)
	if err != nil {
		return nil, errors.Wrap(err, "extracting statement")
	}

	var attrs []attribute.KeyValue
	statement, err := formatStatement(section, false)
	if err != nil {
		return nil, errors.Wrap(err, "formatting statement")
	}
	if statement != "" {
		attrs = append(attrs, semconv.DBStatement(statement))
	}

	stripped, err := formatStatement(section, true)
	if err != nil {
		return nil, errors.Wrap(err, "formatting stripped statement")
	}
	if stripped != "" {
		attrs = append(attrs, attribute.String(strippedStatementAttribute, stripped))
	}

	return attrs, nil
}

// extractCollection returns the collection a command targets: the
// string value of the first element when its key is the command name.
// Database level commands such as listCollections have none.
func extractCollection(evt *event.CommandStartedEvent) (string, error) {
	elem, err := evt.Command.IndexErr(0)
	if err != nil {
		return "", err
	}
	if key, err := elem.KeyErr(); err != nil || key != evt.CommandName {
		return "", errors.New("collection name not found")
	}

	value, err := elem.ValueErr()
	if err != nil {
		return "", err
	}
	if value.Type != bson.TypeString {
		return "", nil
	}
	return value.StringValue(), nil
}

func peerInfo(connectionID string) (hostname string, port int) {
	hostname = connectionID
	port = 27017
	if idx := strings.IndexByte(hostname, '['); idx >= 0 {
		hostname = hostname[:idx]
	}
	if idx := strings.IndexByte(hostname, ':'); idx >= 0 {
		if p, err := strconv.Atoi(hostname[idx+1:]); err == nil {
			port = p
		}
		hostname = hostname[:idx]
	}
	return hostname, port
}

// statementFields lists, per command the sink issues, the fields that
// describe what the command does. Commands not listed are recorded
// whole.
var statementFields = map[string][]string{
	"insert":          {"ordered", "documents"},
	"createIndexes":   {"indexes"},
	"dropIndexes":     {"index"},
	"create":          {"capped", "size", "max"},
	"listCollections": {"filter", "nameOnly"},
	"listIndexes":     {"cursor"},
}

func operationSection(commandName string, raw bson.Raw) (bson.Raw, error) {
	fields, ok := statementFields[commandName]
	if !ok {
		return raw, nil
	}

	elems, err := raw.Elements()
	if err != nil {
		return nil, errors.Wrapf(err, "getting elements of %s statement", commandName)
	}

	section := bson.D{}
	for _, elem := range elems {
		if utility.StringSliceContains(fields, elem.Key()) {
			section = append(section, bson.E{Key: elem.Key(), Value: elem.Value()})
		}
	}

	return bson.Marshal(section)
}

func formatStatement(statement bson.Raw, stripped bool) (string, error) {
	var err error
	if stripped {
		statement, err = stripDocument(statement)
		if err != nil {
			return "", errors.Wrap(err, "stripping section values")
		}
	}

	b, err := bson.MarshalExtJSON(statement, false, false)
	if err != nil {
		return "", errors.Wrap(err, "marshalling to extended JSON")
	}

	var buf bytes.Buffer
	if err = json.Indent(&buf, b, "", "  "); err != nil {
		return "", errors.Wrap(err, "indenting JSON")
	}
	return buf.String(), nil
}

// stripDocument replaces every scalar in doc with a placeholder naming
// its type, so that statements differing only by values compare equal.
func stripDocument(doc bson.Raw) (bson.Raw, error) {
	elems, err := doc.Elements()
	if err != nil {
		return nil, errors.Wrap(err, "enumerating document elements")
	}

	stripped := bson.D{}
	for _, elem := range elems {
		value, err := stripValue(elem.Value())
		if err != nil {
			return nil, errors.Wrapf(err, "stripping '%s'", elem.Key())
		}
		stripped = append(stripped, bson.E{Key: elem.Key(), Value: value})
	}

	return bson.Marshal(stripped)
}

func stripValue(val bson.RawValue) (bson.RawValue, error) {
	switch val.Type {
	case bson.TypeEmbeddedDocument:
		doc, err := stripDocument(val.Document())
		if err != nil {
			return bson.RawValue{}, errors.Wrap(err, "stripping subdocument")
		}
		return bson.RawValue{Type: bson.TypeEmbeddedDocument, Value: doc}, nil
	case bson.TypeArray:
		values, err := val.Array().Values()
		if err != nil {
			return bson.RawValue{}, errors.Wrap(err, "getting array values")
		}
		arr := bson.A{}
		for _, v := range values {
			stripped, err := stripValue(v)
			if err != nil {
				return bson.RawValue{}, errors.Wrap(err, "stripping array member")
			}
			arr = append(arr, stripped)
		}
		_, encoded, err := bson.MarshalValue(compactArray(arr))
		if err != nil {
			return bson.RawValue{}, errors.Wrap(err, "encoding array")
		}
		return bson.RawValue{Type: bson.TypeArray, Value: encoded}, nil
	default:
		_, encoded, err := bson.MarshalValue(fmt.Sprintf("<%s>", val.Type.String()))
		if err != nil {
			return bson.RawValue{}, errors.Wrap(err, "encoding placeholder")
		}
		return bson.RawValue{Type: bson.TypeString, Value: encoded}, nil
	}
}

// compactArray removes repeated placeholders. Arrays holding anything
// other than placeholders are returned unchanged.
func compactArray(arr bson.A) bson.A {
	compacted := make(bson.A, 0, len(arr))
	seen := make(map[string]bool)
	for _, elem := range arr {
		value, ok := elem.(bson.RawValue)
		if !ok || value.Type != bson.TypeString {
			return arr
		}
		placeholder, ok := value.StringValueOK()
		if !ok {
			return arr
		}
		if !seen[placeholder] {
			compacted = append(compacted, elem)
		}
		seen[placeholder] = true
	}

	return compacted
}
