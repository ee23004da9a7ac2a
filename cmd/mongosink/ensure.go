package main

import (
	"fmt"

	"github.com/maruel/subcommands"
	"github.com/mongodb/grip"
	"github.com/mongodb/mongosink"
	"github.com/mongodb/mongosink/model"
	"github.com/pkg/errors"
)

func cmdEnsure() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "ensure [-config path]",
		ShortDesc: "creates the sink collection and reconciles its indexes",
		LongDesc: `Resolves the configured collection, creating it when a capped size is
configured, and applies the declared indexes according to their behaviour.`,
		CommandRun: func() subcommands.CommandRun {
			r := &ensureRun{}
			r.registerFlags()
			return r
		},
	}
}

type ensureRun struct {
	commonRun
}

func (r *ensureRun) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
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
	if err = setupEnvironment(ctx, env, conf); err != nil {
		return exitCode(err)
	}
	defer func() { grip.Warning(errors.Wrap(env.Close(ctx), "closing environment")) }()

	sink, err := mongosink.NewSink(env, opts)
	if err != nil {
		return exitCode(err)
	}
	if err = sink.Initialize(ctx); err != nil {
		return exitCode(err)
	}

	if monitor, err := env.GetMonitor(); err == nil {
		grip.Info(monitor.Rotate().Message())
	}

	fmt.Fprintf(a.GetOut(), "collection '%s' is ready with %d declared indexes\n",
		opts.Settings.EffectiveCollectionName(), len(opts.Indexes))
	return exitOK
}
