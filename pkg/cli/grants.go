package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/cmsroles/pkg/app"
	"github.com/platinummonkey/cmsroles/pkg/sites"
)

// authorize checks that actor administers site. An empty actor skips the check.
func authorize(ctx context.Context, a *app.App, actor string, site *sites.Site) error {
	if actor == "" {
		return nil
	}
	user, err := lookupUser(ctx, a, actor)
	if err != nil {
		return err
	}
	return a.SiteAdmin.AuthorizeSite(ctx, user.ID, site.ID)
}

func newGrantCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "grant",
		Description: "Grant a role to a user on a site",
		Flags:       flag.NewFlagSet("grant", flag.ContinueOnError),
	}
	roleName := cmd.Flags.String("role", "", "Role name")
	username := cmd.Flags.String("user", "", "Username")
	siteRef := cmd.Flags.String("site", "", "Site id or domain")
	pages := cmd.Flags.String("pages", "", "Comma separated page ids (page-scoped roles only)")
	actor := cmd.Flags.String("actor", "", "Username that must administer the site")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		pageIDs, err := parseIDs(*pages)
		if err != nil {
			return err
		}
		a, err := env.App()
		if err != nil {
			return err
		}
		ctx := env.Context()

		role, err := lookupRole(ctx, a, *roleName)
		if err != nil {
			return err
		}
		user, err := lookupUser(ctx, a, *username)
		if err != nil {
			return err
		}
		site, err := lookupSite(ctx, a, *siteRef)
		if err != nil {
			return err
		}
		if err := authorize(ctx, a, *actor, site); err != nil {
			return err
		}
		if role.IsSiteWide && len(pageIDs) > 0 {
			return fmt.Errorf("role %s is site-wide and cannot be granted on pages", role.Name)
		}

		if err := a.Roles.GrantToUser(ctx, role, user.ID, site.ID, pageIDs...); err != nil {
			return err
		}
		env.printf("Granted role %s to %s on %s\n", role.Name, user.Username, site.Domain)
		return nil
	}
	return cmd
}

func newUngrantCommand(env *Env) *Command {
	cmd := &Command{
		Name:        "ungrant",
		Description: "Remove a user's role on a site",
		Flags:       flag.NewFlagSet("ungrant", flag.ContinueOnError),
	}
	roleName := cmd.Flags.String("role", "", "Role name")
	username := cmd.Flags.String("user", "", "Username")
	siteRef := cmd.Flags.String("site", "", "Site id or domain")
	actor := cmd.Flags.String("actor", "", "Username that must administer the site")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		a, err := env.App()
		if err != nil {
			return err
		}
		ctx := env.Context()

		role, err := lookupRole(ctx, a, *roleName)
		if err != nil {
			return err
		}
		user, err := lookupUser(ctx, a, *username)
		if err != nil {
			return err
		}
		site, err := lookupSite(ctx, a, *siteRef)
		if err != nil {
			return err
		}
		if err := authorize(ctx, a, *actor, site); err != nil {
			return err
		}

		if err := a.Roles.UngrantFromUser(ctx, role, user.ID, site.ID); err != nil {
			return err
		}
		env.printf("Removed role %s from %s on %s\n", role.Name, user.Username, site.Domain)
		return nil
	}
	return cmd
}
