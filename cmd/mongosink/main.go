// Command mongosink prepares the MongoDB collection of a configured log
// sink and inspects its indexes.
package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/maruel/subcommands"
	"github.com/mongodb/grip"
	"github.com/mongodb/mongosink"
	"github.com/mongodb/mongosink/config"
	"github.com/mongodb/mongosink/model"
	"github.com/pkg/errors"
)

const (
	exitOK = iota
	exitConfig
	exitFailed
)

var application = &subcommands.DefaultApplication{
	Name:  "mongosink",
	Title: "Prepare and inspect MongoDB log sink collections.",
	Commands: []*subcommands.Command{
		subcommands.CmdHelp,
		cmdEnsure(),
		cmdIndexes(),
	},
}

// commonRun carries the flags every command accepts.
type commonRun struct {
	subcommands.CommandRunBase

	configPath string
	timeout    time.Duration
}

func (r *commonRun) registerFlags() {
	r.Flags.StringVar(&r.configPath, "config", "", "path to a YAML sink configuration; the environment is read when empty")
	r.Flags.DurationVar(&r.timeout, "timeout", time.Minute, "maximum time to spend on the command")
}

func (r *commonRun) loadConfig() (*config.Sink, error) {
	if r.configPath == "" {
		return config.LoadEnv()
	}
	return config.LoadFile(r.configPath)
}

func (r *commonRun) newContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// setupEnvironment registers the configured connection strings and
// sets up env with the configured monitoring.
func setupEnvironment(ctx context.Context, env mongosink.Environment, conf *config.Sink) error {
	for name, cs := range conf.ConnectionStrings {
		if err := env.RegisterConnectionString(name, cs); err != nil {
			return errors.WithStack(err)
		}
	}

	return errors.WithStack(env.Setup(ctx, mongosink.EnvironmentOptions{APM: conf.APM}))
}

func main() {
	os.Exit(subcommands.Run(application, nil))
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	grip.Error(err)
	if model.IsConfigurationError(err) {
		return exitConfig
	}
	return exitFailed
}
