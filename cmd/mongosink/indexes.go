package main

import (
	"fmt"
	"io"

	"github.com/maruel/subcommands"
	"github.com/mongodb/grip"
	"github.com/mongodb/mongosink"
	"github.com/mongodb/mongosink/indexes"
	"github.com/mongodb/mongosink/model"
	"github.com/mongodb/mongosink/resolver"
	"github.com/pkg/errors"
)

func cmdIndexes() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "indexes [-config path]",
		ShortDesc: "prints the index changes ensure would make",
		LongDesc: `Lists the indexes of the configured collection and prints, for each
declared index, whether it would be created, kept or replaced. Nothing is
modified.`,
		CommandRun: func() subcommands.CommandRun {
			r := &indexesRun{}
			r.registerFlags()
			return r
		},
	}
}

type indexesRun struct {
	commonRun
}

func (r *indexesRun) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	if len(args) != 0 {
		fmt.Fprintf(a.GetErr(), "%s: unexpected arguments %v\n", a.GetName(), args)
		return exitConfig
	}

	ctx, cancel := r.newContext()
	defer cancel()

	conf, err := r.loadConfig()
	if err != nil {
		return exitCode(err)
	}
	opts, err := mongosink.SinkOptionsFromConfig(conf)
	if err != nil {
		return exitCode(model.NewConfigurationError(err, "loading sink configuration"))
	}

	env := mongosink.NewEnvironment()
	for name, cs := range conf.ConnectionStrings {
		if err = env.RegisterConnectionString(name, cs); err != nil {
			return exitCode(err)
		}
	}
	cs, err := mongosink.ResolveConnectionString(env, &opts.Settings)
	if err != nil {
		return exitCode(err)
	}

	factory := resolver.NewClientFactory(nil)
	defer func() { grip.Warning(errors.Wrap(factory.Close(ctx), "disconnecting")) }()

	database, err := factory.Create(ctx, cs)
	if err != nil {
		return exitCode(model.NewConfigurationError(err, "opening database"))
	}
	coll := database.Collection(opts.Settings.EffectiveCollectionName())

	existing, err := coll.Indexes().ListNames(ctx)
	if err != nil {
		return exitCode(errors.Wrapf(err, "listing indexes of '%s'", coll.Name()))
	}

	plan, err := indexes.Classify(existing, opts.Indexes)
	if err != nil {
		return exitCode(err)
	}

	printPlan(a.GetOut(), coll.Name(), plan)
	return exitOK
}

func printPlan(w io.Writer, collection string, plan *indexes.Plan) {
	if plan.IsEmpty() {
		fmt.Fprintf(w, "%s: indexes are up to date\n", collection)
	}
	for _, name := range plan.Kept {
		fmt.Fprintf(w, "%s: keep %s\n", collection, name)
	}
	for _, name := range plan.Drops {
		fmt.Fprintf(w, "%s: drop %s\n", collection, name)
	}
	for _, m := range plan.Creates {
		fmt.Fprintf(w, "%s: create %s %v\n", collection, m.Name, m.Keys)
	}
}
