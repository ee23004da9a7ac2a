package apm

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/event"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestCompactArray(t *testing.T) {
	_, type1, err := bson.MarshalValue("type 1")
	require.NoError(t, err)
	_, type2, err := bson.MarshalValue("type 2")
	require.NoError(t, err)

	for name, testCase := range map[string]struct {
		input     bson.A
		unchanged bool
		expected  bson.A
	}{
		"emptyArray": {input: bson.A{}, unchanged: true},
		"corruptValue": {
			input: bson.A{
				bson.RawValue{Type: bson.TypeString, Value: []byte("invalid bson")},
				bson.RawValue{Type: bson.TypeString, Value: type1},
			},
			unchanged: true,
		},
		"arrayType": {
			input: bson.A{
				bson.RawValue{Type: bson.TypeString, Value: type1},
				bson.RawValue{Type: bson.TypeArray},
			},
			unchanged: true,
		},
		"documentType": {
			input: bson.A{
				bson.RawValue{Type: bson.TypeString, Value: type1},
				bson.RawValue{Type: bson.TypeEmbeddedDocument},
			},
			unchanged: true,
		},
		"multiplesOfEachType": {
			input: bson.A{
				bson.RawValue{Type: bson.TypeString, Value: type1},
				bson.RawValue{Type: bson.TypeString, Value: type1},
				bson.RawValue{Type: bson.TypeString, Value: type2},
				bson.RawValue{Type: bson.TypeString, Value: type2},
			},
			expected: bson.A{
				bson.RawValue{Type: bson.TypeString, Value: type1},
				bson.RawValue{Type: bson.TypeString, Value: type2},
			},
		},
	} {
		t.Run(name, func(t *testing.T) {
			if testCase.unchanged {
				assert.Equal(t, testCase.input, compactArray(testCase.input))
			} else {
				assert.Equal(t, testCase.expected, compactArray(testCase.input))
			}
		})
	}
}

func TestStripDocument(t *testing.T) {
	for name, testCase := range map[string]struct {
		input       bson.D
		errExpected bool
		expected    bson.D
	}{
		"simpleValues": {
			input: bson.D{
				{Key: "a_string", Value: "connection refused"},
				{Key: "an_int", Value: 1},
				{Key: "a_date", Value: time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)},
			},
			expected: bson.D{
				{Key: "a_string", Value: "<string>"},
				{Key: "an_int", Value: "<32-bit integer>"},
				{Key: "a_date", Value: "<UTC datetime>"},
			},
		},
		"nestedArray": {
			input: bson.D{
				{Key: "array", Value: []interface{}{"one", 2, "two", 3, time.Date(2009, time.November, 10, 23, 0, 0, 0, time.UTC)}},
			},
			expected: bson.D{
				{Key: "array", Value: []interface{}{"<string>", "<32-bit integer>", "<UTC datetime>"}},
			},
		},
		"nestedSubdocument": {
			input: bson.D{
				{Key: "subdocument", Value: bson.M{"my_int": 1}},
			},
			expected: bson.D{
				{Key: "subdocument", Value: bson.M{"my_int": "<32-bit integer>"}},
			},
		},
		"nestedRecursively": {
			input: bson.D{
				{Key: "subdocument", Value: bson.M{"array": []interface{}{"one"}}},
			},
			expected: bson.D{
				{Key: "subdocument", Value: bson.M{"array": []interface{}{"<string>"}}},
			},
		},
	} {
		t.Run(name, func(t *testing.T) {
			input, err := bson.Marshal(testCase.input)
			require.NoError(t, err)
			expectedOutput, err := bson.MarshalExtJSON(testCase.expected, false, false)
			require.NoError(t, err)

			if testCase.errExpected {
				_, err := stripDocument(input)
				assert.Error(t, err)
			} else {
				val, err := stripDocument(input)
				assert.NoError(t, err)
				valString, err := bson.MarshalExtJSON(val, false, false)
				assert.NoError(t, err)
				assert.Equal(t, expectedOutput, valString)
			}
		})
	}
}

func rawFromJSON(t *testing.T, input string) bson.Raw {
	var doc bson.D
	require.NoError(t, bson.UnmarshalExtJSON([]byte(input), false, &doc))
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	return raw
}

func TestOperationSection(t *testing.T) {
	for name, testCase := range map[string]struct {
		commandName string
		input       string
		stripped    bool
		expected    string
	}{
		"createIndexes": {
			commandName: "createIndexes",
			input:       `{"createIndexes":"log","indexes":[{"key":{"Date":-1},"name":"i1"}],"lsid":{"id":{"$binary":{"base64":"aggafjahdfLSJKDF3as5Fg==","subType":"04"}}},"$db":"logging"}`,
			expected: `{
  "indexes": [
    {
      "key": {
        "Date": -1
      },
      "name": "i1"
    }
  ]
}`,
		},
		"createIndexesStripped": {
			commandName: "createIndexes",
			input:       `{"createIndexes":"log","indexes":[{"key":{"Date":-1},"name":"i1"}],"$db":"logging"}`,
			stripped:    true,
			expected: `{
  "indexes": [
    {
      "key": {
        "Date": "<32-bit integer>"
      },
      "name": "<string>"
    }
  ]
}`,
		},
		"dropIndexes": {
			commandName: "dropIndexes",
			input:       `{"dropIndexes":"log","index":"i1","$db":"logging"}`,
			expected: `{
  "index": "i1"
}`,
		},
		"create": {
			commandName: "create",
			input:       `{"create":"log","capped":true,"size":100,"max":1000,"$db":"logging"}`,
			expected: `{
  "capped": true,
  "size": 100,
  "max": 1000
}`,
		},
		"insertStripped": {
			commandName: "insert",
			input:       `{"insert":"log","ordered":true,"$db":"logging","documents":[{"Level":"ERROR","Message":"disk full"},{"Level":"INFO","Message":"ok"}]}`,
			stripped:    true,
			expected: `{
  "ordered": "<boolean>",
  "documents": [
    {
      "Level": "<string>",
      "Message": "<string>"
    },
    {
      "Level": "<string>",
      "Message": "<string>"
    }
  ]
}`,
		},
		"unlistedCommandKeptWhole": {
			commandName: "ping",
			input:       `{"ping":1,"$db":"admin"}`,
			expected: `{
  "ping": 1,
  "$db": "admin"
}`,
		},
	} {
		t.Run(name, func(t *testing.T) {
			section, err := operationSection(testCase.commandName, rawFromJSON(t, testCase.input))
			require.NoError(t, err)
			val, err := formatStatement(section, testCase.stripped)
			require.NoError(t, err)
			assert.Equal(t, testCase.expected, val)
		})
	}
}

func TestPeerInfo(t *testing.T) {
	for id, expected := range map[string]struct {
		host string
		port int
	}{
		"localhost:27017[-1]":     {host: "localhost", port: 27017},
		"db.example.com:27018[4]": {host: "db.example.com", port: 27018},
		"db.example.com":          {host: "db.example.com", port: 27017},
		"db.example.com:bad":      {host: "db.example.com", port: 27017},
	} {
		t.Run(id, func(t *testing.T) {
			host, port := peerInfo(id)
			assert.Equal(t, expected.host, host)
			assert.Equal(t, expected.port, port)
		})
	}
}

func spanAttribute(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, attr := range span.Attributes() {
		if string(attr.Key) == key {
			return attr.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracingMonitor(t *testing.T) {
	ctx := context.Background()
	newMonitor := func(opts ...Option) (*event.CommandMonitor, *tracetest.SpanRecorder) {
		recorder := tracetest.NewSpanRecorder()
		provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
		return NewTracingMonitor(append([]Option{WithTracerProvider(provider)}, opts...)...), recorder
	}
	insert := bson.D{
		{Key: "insert", Value: "log"},
		{Key: "ordered", Value: true},
		{Key: "documents", Value: bson.A{bson.D{{Key: "Message", Value: "hello"}}}},
	}

	t.Run("Succeeded", func(t *testing.T) {
		monitor, recorder := newMonitor()
		monitor.Started(ctx, startedEvent(t, 1, "logging", insert))
		reply, err := bson.Marshal(bson.D{{Key: "ok", Value: 1}})
		require.NoError(t, err)
		monitor.Succeeded(ctx, &event.CommandSucceededEvent{CommandFinishedEvent: finished(1, "insert", 0), Reply: reply})

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "log.insert", spans[0].Name())
		assert.Equal(t, trace.SpanKindClient, spans[0].SpanKind())

		coll, ok := spanAttribute(spans[0], "db.mongodb.collection")
		require.True(t, ok)
		assert.Equal(t, "log", coll.AsString())
		size, ok := spanAttribute(spans[0], responseBytesAttribute)
		require.True(t, ok)
		assert.Equal(t, int64(len(reply)), size.AsInt64())
		_, ok = spanAttribute(spans[0], "db.statement")
		assert.False(t, ok)
	})
	t.Run("Failed", func(t *testing.T) {
		monitor, recorder := newMonitor()
		monitor.Started(ctx, startedEvent(t, 2, "logging", bson.D{{Key: "createIndexes", Value: "log"}}))
		monitor.Failed(ctx, &event.CommandFailedEvent{CommandFinishedEvent: finished(2, "createIndexes", 0), Failure: errors.New("index exists")})

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status().Code)
		assert.Equal(t, "index exists", spans[0].Status().Description)
	})
	t.Run("DatabaseCommand", func(t *testing.T) {
		monitor, recorder := newMonitor()
		monitor.Started(ctx, startedEvent(t, 3, "logging", bson.D{{Key: "listCollections", Value: 1}}))
		monitor.Succeeded(ctx, &event.CommandSucceededEvent{CommandFinishedEvent: finished(3, "listCollections", 0)})

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "listCollections", spans[0].Name())
	})
	t.Run("Statement", func(t *testing.T) {
		monitor, recorder := newMonitor(WithStatement(true))
		monitor.Started(ctx, startedEvent(t, 4, "logging", insert))
		monitor.Succeeded(ctx, &event.CommandSucceededEvent{CommandFinishedEvent: finished(4, "insert", 0)})

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		statement, ok := spanAttribute(spans[0], "db.statement")
		require.True(t, ok)
		assert.Contains(t, statement.AsString(), "hello")
		stripped, ok := spanAttribute(spans[0], strippedStatementAttribute)
		require.True(t, ok)
		assert.NotContains(t, stripped.AsString(), "hello")
	})
	t.Run("TransformerOmitsStatement", func(t *testing.T) {
		monitor, recorder := newMonitor(WithStatement(true), WithCommandTransformer(func(bson.Raw) bson.Raw { return nil }))
		monitor.Started(ctx, startedEvent(t, 5, "logging", insert))
		monitor.Succeeded(ctx, &event.CommandSucceededEvent{CommandFinishedEvent: finished(5, "insert", 0)})

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		_, ok := spanAttribute(spans[0], "db.statement")
		assert.False(t, ok)
	})
	t.Run("UnmatchedFinishIgnored", func(t *testing.T) {
		monitor, recorder := newMonitor()
		monitor.Succeeded(ctx, &event.CommandSucceededEvent{CommandFinishedEvent: finished(6, "insert", 0)})
		monitor.Failed(ctx, &event.CommandFailedEvent{CommandFinishedEvent: finished(7, "insert", 0)})
		assert.Empty(t, recorder.Ended())
	})
}
