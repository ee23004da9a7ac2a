package mongosink

import (
	"fmt"
	"sort"
	"time"

	"github.com/evergreen-ci/birch"
	"github.com/pkg/errors"
)

// Event is one log event.
type Event struct {
	Time       time.Time
	Level      string
	Logger     string
	Message    string
	Error      error
	Properties map[string]interface{}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func (s *Sink) document(e Event) *birch.Document {
	doc := birch.DC.Make(6 + len(s.opts.Fields))

	if s.opts.IncludeDefaults {
		ts := e.Time
		if ts.IsZero() {
			ts = time.Now()
		}
		doc.Append(
			birch.EC.Time("Date", ts.UTC()),
			birch.EC.String("Level", e.Level),
			birch.EC.String("Logger", e.Logger),
			birch.EC.String("Message", e.Message),
		)
		if e.Error != nil {
			doc.Append(birch.EC.SubDocument("Exception", exceptionDocument(e.Error)))
		}
	}

	for _, f := range s.opts.Fields {
		doc.Append(birch.EC.String(f.Name, f.Value))
	}

	if len(e.Properties) > 0 {
		keys := make([]string, 0, len(e.Properties))
		for k := range e.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		props := birch.DC.Make(len(keys))
		for _, k := range keys {
			props.Append(birch.EC.Interface(k, e.Properties[k]))
		}
		doc.Append(birch.EC.SubDocument("Properties", props))
	}

	return doc
}

func exceptionDocument(err error) *birch.Document {
	cause := errors.Cause(err)
	doc := birch.NewDocument(
		birch.EC.String("Message", err.Error()),
		birch.EC.String("Type", fmt.Sprintf("%T", cause)),
	)
	if cause != err {
		doc.Append(birch.EC.String("BaseMessage", cause.Error()))
	}
	if st, ok := err.(stackTracer); ok {
		doc.Append(birch.EC.String("StackTrace", fmt.Sprintf("%+v", st.StackTrace())))
	}

	return doc
}
