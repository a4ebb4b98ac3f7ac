package cli

import (
	"flag"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/cmsroles/pkg/observability"
)

func newReconcileCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "reconcile",
		Description: "Repair drifted derived grants, once or on a cron schedule",
		Flags:       flag.NewFlagSet("reconcile", flag.ContinueOnError),
	}
	schedule := cmd.Flags.String("schedule", "", "Cron schedule such as \"@every 1h\"; runs once when empty")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		a, err := env.App()
		if err != nil {
			return err
		}
		ctx := env.Context()

		if *schedule == "" {
			report, err := a.Roles.Reconcile(ctx)
			if err != nil {
				return err
			}
			env.printf("%s\n", report)
			return nil
		}

		log := observability.FromContext(ctx).WithField("component", "reconcile")
		c := cron.New()
		if _, err := c.AddFunc(*schedule, func() {
			pass := newRun(ctx)
			if _, err := a.Roles.Reconcile(pass); err != nil {
				observability.FromContext(pass).WithField("component", "reconcile").
					WithError(err).Error("scheduled reconcile failed")
			}
		}); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", *schedule, err)
		}

		c.Start()
		log.Infof("reconcile scheduled: %s", *schedule)
		<-ctx.Done()

		// wait for a running pass to finish
		<-c.Stop().Done()
		return nil
	}
	return cmd
}
