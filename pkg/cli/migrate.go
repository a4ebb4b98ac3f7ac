package cli

import "flag"

func newMigrateCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply pending database migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ContinueOnError),
	}

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		a, err := env.App()
		if err != nil {
			return err
		}
		if err := a.Migrate(env.Context()); err != nil {
			return err
		}
		env.printf("Migrations applied\n")
		return nil
	}
	return cmd
}
