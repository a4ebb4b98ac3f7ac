package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/platinummonkey/cmsroles/pkg/app"
	"github.com/platinummonkey/cmsroles/pkg/directory"
	"github.com/platinummonkey/cmsroles/pkg/roles"
	"github.com/platinummonkey/cmsroles/pkg/sites"
)

func lookupRole(ctx context.Context, a *app.App, name string) (*roles.Role, error) {
	if name == "" {
		return nil, fmt.Errorf("role is required")
	}
	role, err := a.Roles.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("role %q: %w", name, err)
	}
	return role, nil
}

func lookupUser(ctx context.Context, a *app.App, username string) (*directory.User, error) {
	if username == "" {
		return nil, fmt.Errorf("user is required")
	}
	user, err := a.Directory.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", username, err)
	}
	return user, nil
}

// lookupSite accepts a numeric site id or a domain
func lookupSite(ctx context.Context, a *app.App, ref string) (*sites.Site, error) {
	if ref == "" {
		return nil, fmt.Errorf("site is required")
	}
	var (
		site *sites.Site
		err  error
	)
	if id, convErr := strconv.ParseInt(ref, 10, 64); convErr == nil {
		site, err = a.Sites.GetSite(ctx, id)
	} else {
		site, err = a.Sites.GetSiteByDomain(ctx, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("site %q: %w", ref, err)
	}
	return site, nil
}

// parseIDs parses a comma separated list of ids, ignoring blanks
func parseIDs(list string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
}
