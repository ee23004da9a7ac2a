/*
Package indexes aligns the indexes of a collection with a declared list.

Declared indexes are matched to existing ones by name only. What happens
to a name that already exists is decided by the declaration's
Behaviour; field lists are never compared, so an existing index kept
under CreateIfNotExists may differ from its declaration. All
declarations are classified before the collection is touched, then
scheduled drops run, then every scheduled creation is sent in one
batch.
*/
package indexes

import (
	"context"
	"fmt"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/mongosink/db"
	"github.com/mongodb/mongosink/model"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mongodb/mongosink/indexes"

// Decision is the classification of one declared index.
type Decision int

const (
	NotExists Decision = iota
	Keep
	ReplaceExisting
	Conflict
)

func (d Decision) String() string {
	switch d {
	case NotExists:
		return "not-exists"
	case Keep:
		return "keep"
	case ReplaceExisting:
		return "replace"
	case Conflict:
		return "conflict"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Plan is the set of mutations a reconciliation will apply.
type Plan struct {
	Drops   []string
	Creates []db.IndexModel
	Kept    []string
}

// IsEmpty reports whether applying the plan touches nothing.
func (p *Plan) IsEmpty() bool { return len(p.Drops) == 0 && len(p.Creates) == 0 }

// Decide classifies a single declaration against the set of existing
// index names.
func Decide(existing map[string]struct{}, spec model.IndexSpec) (Decision, error) {
	if _, ok := existing[spec.Name]; !ok {
		return NotExists, nil
	}

	switch spec.Behaviour {
	case model.CreateIfNotExists:
		return Keep, nil
	case model.Replace:
		return ReplaceExisting, nil
	case model.CreateNew:
		return Conflict, errors.Wrapf(model.ErrIndexExists, "index '%s'", spec.Name)
	default:
		return Conflict, errors.Wrapf(model.ErrUnknownBehaviour, "index '%s' declares %s", spec.Name, spec.Behaviour)
	}
}

// Classify builds the plan for declared against the existing index
// names. It fails on the first declaration that conflicts or cannot
// be converted to an index model, in declaration order.
func Classify(existing []string, declared []model.IndexSpec) (*Plan, error) {
	present := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		present[name] = struct{}{}
	}

	plan := &Plan{}
	for _, spec := range declared {
		if spec.Name == "" {
			return nil, model.ErrEmptyIndexName
		}

		decision, err := Decide(present, spec)
		if err != nil {
			return nil, err
		}

		grip.Debug(message.Fields{
			"message":   "classified index",
			"index":     spec.Name,
			"behaviour": spec.Behaviour.String(),
			"decision":  decision.String(),
		})

		switch decision {
		case Keep:
			plan.Kept = append(plan.Kept, spec.Name)
			continue
		case ReplaceExisting:
			plan.Drops = append(plan.Drops, spec.Name)
		}

		m, err := Model(spec)
		if err != nil {
			return nil, err
		}
		plan.Creates = append(plan.Creates, m)
	}

	return plan, nil
}

// Reconciler applies declared indexes to collections.
type Reconciler struct {
	tracer trace.Tracer
}

// NewReconciler returns a Reconciler traced by the global tracer provider.
func NewReconciler() *Reconciler {
	return &Reconciler{tracer: otel.GetTracerProvider().Tracer(tracerName)}
}

// Reconcile lists the indexes of coll, classifies declared against
// them, drops the indexes being replaced and creates every scheduled
// index with a single batch. No create call is made when nothing is
// scheduled. Any failure ends the call; nothing is retried or rolled
// back.
func (r *Reconciler) Reconcile(ctx context.Context, coll db.Collection, declared []model.IndexSpec) (err error) {
	if coll == nil {
		return model.ErrNilCollection
	}

	ctx, span := r.tracer.Start(ctx, "indexes.Reconcile", trace.WithAttributes(
		attribute.String("mongosink.collection", coll.Name()),
		attribute.Int("mongosink.declared_indexes", len(declared)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	view := coll.Indexes()
	existing, err := view.ListNames(ctx)
	if err != nil {
		return errors.Wrapf(err, "listing indexes of '%s'", coll.Name())
	}

	plan, err := Classify(existing, declared)
	if err != nil {
		return errors.Wrapf(err, "reconciling indexes of '%s'", coll.Name())
	}
	span.SetAttributes(
		attribute.Int("mongosink.drops", len(plan.Drops)),
		attribute.Int("mongosink.creates", len(plan.Creates)),
	)

	for _, name := range plan.Drops {
		if err = view.DropOne(ctx, name); err != nil {
			return errors.Wrapf(err, "dropping index '%s' of '%s'", name, coll.Name())
		}
		grip.Info(message.Fields{
			"message":    "dropped index",
			"collection": coll.Name(),
			"index":      name,
		})
	}

	if len(plan.Creates) == 0 {
		grip.Debug(message.Fields{
			"message":    "no indexes to create",
			"collection": coll.Name(),
			"kept":       plan.Kept,
		})
		return nil
	}

	names := make([]string, 0, len(plan.Creates))
	for _, m := range plan.Creates {
		names = append(names, m.Name)
	}

	if err = view.CreateMany(ctx, plan.Creates); err != nil {
		return errors.Wrapf(err, "creating indexes %v of '%s'", names, coll.Name())
	}
	grip.Info(message.Fields{
		"message":    "created indexes",
		"collection": coll.Name(),
		"indexes":    names,
		"kept":       plan.Kept,
	})

	return nil
}
