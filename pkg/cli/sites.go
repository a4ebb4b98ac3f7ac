package cli

import (
	"flag"
	"fmt"
)

type siteUserRow struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

func newSiteUsersCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "site-users",
		Description: "List the users holding a role on a site",
		Flags:       flag.NewFlagSet("site-users", flag.ContinueOnError),
	}
	siteRef := cmd.Flags.String("site", "", "Site id or domain")
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

		site, err := lookupSite(ctx, a, *siteRef)
		if err != nil {
			return err
		}
		users, err := a.SiteAdmin.SiteUsers(ctx, site.ID)
		if err != nil {
			return err
		}

		rows := make([]siteUserRow, len(users))
		for i, su := range users {
			rows[i] = siteUserRow{Username: su.User.Username, Role: su.Role.Name}
		}
		if *asJSON {
			return writeJSON(env.Out, rows)
		}
		tw := newTable(env.Out)
		fmt.Fprintln(tw, "USER\tROLE")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\n", r.Username, r.Role)
		}
		return tw.Flush()
	}
	return cmd
}

func newAdministeredSitesCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "administered-sites",
		Description: "List the sites a user can administer",
		Flags:       flag.NewFlagSet("administered-sites", flag.ContinueOnError),
	}
	username := cmd.Flags.String("user", "", "Username")
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

		user, err := lookupUser(ctx, a, *username)
		if err != nil {
			return err
		}
		list, err := a.SiteAdmin.AdministeredSites(ctx, user.ID)
		if err != nil {
			return err
		}

		if *asJSON {
			return writeJSON(env.Out, list)
		}
		tw := newTable(env.Out)
		fmt.Fprintln(tw, "ID\tDOMAIN\tNAME")
		for _, s := range list {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", s.ID, s.Domain, s.Name)
		}
		return tw.Flush()
	}
	return cmd
}
