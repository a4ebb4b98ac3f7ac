package roles

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/cmsroles/pkg/audit"
	"github.com/platinummonkey/cmsroles/pkg/directory"
	"github.com/platinummonkey/cmsroles/pkg/events"
	"github.com/platinummonkey/cmsroles/pkg/observability"
	"github.com/platinummonkey/cmsroles/pkg/permissions"
	"github.com/platinummonkey/cmsroles/pkg/sites"
	"github.com/platinummonkey/cmsroles/pkg/storage"
	"github.com/platinummonkey/cmsroles/pkg/storage/storagetest"
)

// fixture wires the stores, engine and reactor on a fresh in-memory database
type fixture struct {
	t        *testing.T
	ctx      context.Context
	registry *events.Registry
	dir      *directory.Store
	sites    *sites.Store
	store    *Store
	engine   *Engine
	reactor  *Reactor
	audit    *audit.MemoryLogger
	metrics  *observability.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, storagetest.NewSQLite(t))
}

func newFixtureOn(t *testing.T, db *storage.DB) *fixture {
	t.Helper()
	registry := events.NewRegistry()

	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		registry: registry,
		dir:      directory.NewStore(db, registry),
		sites:    sites.NewStore(db, registry),
		store:    NewStore(db, registry),
		audit:    audit.NewMemoryLogger(),
		metrics:  observability.NewMetrics(nil),
	}
	f.engine = NewEngine(f.store, f.dir, f.sites,
		WithAuditLogger(f.audit),
		WithMetrics(f.metrics),
	)
	f.reactor = NewReactor(f.engine)
	f.reactor.Register(registry)
	return f
}

func (f *fixture) user(name string) *directory.User {
	f.t.Helper()
	u := &directory.User{Username: name}
	require.NoError(f.t, f.dir.CreateUser(f.ctx, u))
	return u
}

func (f *fixture) group(name string, codenames ...string) *directory.Group {
	f.t.Helper()
	g := &directory.Group{Name: name}
	require.NoError(f.t, f.dir.CreateGroup(f.ctx, g))
	for _, codename := range codenames {
		c, err := f.dir.EnsureCapability(f.ctx, codename, codename)
		require.NoError(f.t, err)
		require.NoError(f.t, f.dir.AddGroupCapability(f.ctx, g.ID, c.ID))
	}
	return g
}

func (f *fixture) site(domain string) *sites.Site {
	f.t.Helper()
	s := &sites.Site{Domain: domain, Name: domain}
	require.NoError(f.t, f.sites.CreateSite(f.ctx, s))
	return s
}

func (f *fixture) page(site *sites.Site, title string) *sites.Page {
	f.t.Helper()
	p := &sites.Page{SiteID: site.ID, Title: title}
	require.NoError(f.t, f.sites.CreatePage(f.ctx, p))
	return p
}

func (f *fixture) role(name string, base *directory.Group, siteWide bool, flags ...permissions.Flag) *Role {
	f.t.Helper()
	r := &Role{Name: name, GroupID: base.ID, IsSiteWide: siteWide, Permissions: permissions.Of(flags...)}
	require.NoError(f.t, f.engine.Create(f.ctx, r))
	return r
}

func (f *fixture) derivedGroups() []directory.Group {
	f.t.Helper()
	all, err := f.dir.ListGroups(f.ctx)
	require.NoError(f.t, err)
	var out []directory.Group
	for _, g := range all {
		if g.IsDerived() {
			out = append(out, g)
		}
	}
	return out
}

func (f *fixture) siteGrants(role *Role) []GlobalPermission {
	f.t.Helper()
	grants, err := f.store.SiteGrants(f.ctx, role.ID)
	require.NoError(f.t, err)
	return grants
}

func (f *fixture) pageGrants(role *Role) []PagePermission {
	f.t.Helper()
	grants, err := f.store.PageGrants(f.ctx, role.ID)
	require.NoError(f.t, err)
	return grants
}

func (f *fixture) codenames(groupID int64) []string {
	f.t.Helper()
	caps, err := f.dir.GroupCapabilities(f.ctx, groupID)
	require.NoError(f.t, err)
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = c.Codename
	}
	sort.Strings(out)
	return out
}

func (f *fixture) isMember(userID, groupID int64) bool {
	f.t.Helper()
	ok, err := f.dir.IsMember(f.ctx, userID, groupID)
	require.NoError(f.t, err)
	return ok
}

func usernames(users []directory.User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.Username
	}
	sort.Strings(out)
	return out
}
