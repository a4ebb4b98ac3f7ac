package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/cmsroles/pkg/app"
	"github.com/platinummonkey/cmsroles/pkg/observability"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// Env carries the output streams and the lazily built application
type Env struct {
	Out  io.Writer
	Err  io.Writer
	Load func() (*app.App, error)
	Ctx  context.Context

	app   *app.App
	runID string
}

// NewEnv returns an Env writing to the process streams
func NewEnv(load func() (*app.App, error)) *Env {
	return &Env{Out: os.Stdout, Err: os.Stderr, Load: load, Ctx: context.Background()}
}

// Context returns the context commands run under. It carries the run ID of
// the command and, once the application is built, its logger.
func (e *Env) Context() context.Context {
	ctx := e.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if e.runID == "" {
		e.runID = uuid.NewString()
	}
	if e.app != nil {
		ctx = observability.WithLogger(ctx, e.app.Log)
	}
	return observability.WithRunID(ctx, e.runID)
}

// newRun derives a context with a fresh run ID for one pass of a long-running command
func newRun(ctx context.Context) context.Context {
	return observability.WithRunID(ctx, uuid.NewString())
}

// App builds the application on first use
func (e *Env) App() (*app.App, error) {
	if e.app != nil {
		return e.app, nil
	}
	if e.Load == nil {
		return nil, errors.New("no application loader configured")
	}
	a, err := e.Load()
	if err != nil {
		return nil, err
	}
	e.app = a
	return a, nil
}

// Close releases the application if one was built
func (e *Env) Close() error {
	if e.app == nil {
		return nil
	}
	err := e.app.Close()
	e.app = nil
	return err
}

func (e *Env) printf(format string, args ...interface{}) {
	fmt.Fprintf(e.Out, format, args...)
}

// NewRootCommand creates the root command
func NewRootCommand(env *Env) *Command {
	root := &Command{
		Name:        "cmsroles",
		Description: "cmsroles - role lifecycle and permission maintenance",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("cmsroles", flag.ContinueOnError),
	}

	for _, cmd := range []*Command{
		newMigrateCommand(env),
		newLoadRolesCommand(env),
		newListRolesCommand(env),
		newGrantCommand(env),
		newUngrantCommand(env),
		newSiteUsersCommand(env),
		newAdministeredSitesCommand(env),
		newManagePagePermissionsCommand(env),
		newReconcileCommand(env),
	} {
		cmd.Flags.SetOutput(env.Err)
		root.Subcommands[cmd.Name] = cmd
	}
	root.Flags.SetOutput(env.Err)

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(out io.Writer, args []string) error {
	if len(args) == 0 {
		return c.usage(out)
	}

	// Check for help flag
	switch strings.ToLower(args[0]) {
	case "-h", "--help", "help":
		return c.usage(out)
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage(out io.Writer) error {
	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-25s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}
