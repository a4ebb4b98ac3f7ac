package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/cmsroles/pkg/roles"
)

func newLoadRolesCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "load-roles",
		Description: "Create or update roles from a YAML definition file",
		Flags:       flag.NewFlagSet("load-roles", flag.ContinueOnError),
	}
	file := cmd.Flags.String("f", "", "Role definition file (defaults to CMSROLES_ROLES_FILE)")
	watch := cmd.Flags.Bool("watch", false, "Keep running and re-apply the file whenever it changes")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		a, err := env.App()
		if err != nil {
			return err
		}

		path := *file
		if path == "" {
			path = a.Config.RolesFile
		}
		if path == "" {
			return fmt.Errorf("role definition file is required (-f)")
		}

		apply := func(ctx context.Context) error {
			defs, err := roles.LoadDefinitionsFile(path)
			if err != nil {
				return err
			}
			result, err := a.Roles.Apply(ctx, defs)
			if err != nil {
				return fmt.Errorf("failed to apply %s: %w", path, err)
			}
			env.printf("%s\n", result)
			return nil
		}

		ctx := env.Context()
		if err := apply(ctx); err != nil {
			return err
		}
		if !*watch {
			return nil
		}
		return watchFile(ctx, path, apply)
	}
	return cmd
}

type roleRow struct {
	Name        string `json:"name"`
	Group       string `json:"group"`
	Mode        string `json:"mode"`
	Permissions string `json:"permissions"`
}

func newListRolesCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "list-roles",
		Description: "List roles with their base group, mode and flags",
		Flags:       flag.NewFlagSet("list-roles", flag.ContinueOnError),
	}
	asJSON := cmd.Flags.Bool("json", false, "Print JSON instead of a table")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		a, err := env.App()
		if err != nil {
			return err
		}
		ctx := env.Context()

		list, err := a.Roles.List(ctx)
		if err != nil {
			return err
		}
		rows := make([]roleRow, 0, len(list))
		for _, role := range list {
			group, err := a.Directory.GetGroup(ctx, role.GroupID)
			if err != nil {
				return fmt.Errorf("role %q: %w", role.Name, err)
			}
			rows = append(rows, roleRow{
				Name:        role.Name,
				Group:       group.Name,
				Mode:        string(role.Mode()),
				Permissions: role.Permissions.String(),
			})
		}

		if *asJSON {
			return writeJSON(env.Out, rows)
		}
		tw := newTable(env.Out)
		fmt.Fprintln(tw, "NAME\tGROUP\tMODE\tPERMISSIONS")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, r.Group, r.Mode, r.Permissions)
		}
		return tw.Flush()
	}
	return cmd
}

func newManagePagePermissionsCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "manage-page-permissions",
		Description: "Let a page-scoped role take over its members' unmanaged page permissions",
		Flags:       flag.NewFlagSet("manage-page-permissions", flag.ContinueOnError),
	}
	roleName := cmd.Flags.String("role", "", "Page-scoped role name")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *roleName == "" {
			return fmt.Errorf("role is required")
		}
		a, err := env.App()
		if err != nil {
			return err
		}

		report, err := a.Roles.ManagePagePermissions(env.Context(), *roleName)
		if err != nil {
			return err
		}
		for _, conflict := range report.Conflicts {
			fmt.Fprintln(env.Err, conflict.String())
		}
		env.printf("Role %s now manages %d page permission(s); %d conflict(s)\n",
			report.Role, len(report.Absorbed), len(report.Conflicts))
		return nil
	}
	return cmd
}
