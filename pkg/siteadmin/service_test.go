package siteadmin

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/cmsroles/pkg/directory"
	"github.com/platinummonkey/cmsroles/pkg/events"
	"github.com/platinummonkey/cmsroles/pkg/observability"
	"github.com/platinummonkey/cmsroles/pkg/permissions"
	"github.com/platinummonkey/cmsroles/pkg/roles"
	"github.com/platinummonkey/cmsroles/pkg/sites"
	"github.com/platinummonkey/cmsroles/pkg/storage/storagetest"
)

type env struct {
	t       *testing.T
	ctx     context.Context
	dir     *directory.Store
	sites   *sites.Store
	engine  *roles.Engine
	svc     *Service
	metrics *observability.Metrics
}

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()
	db := storagetest.NewSQLite(t)
	registry := events.NewRegistry()
	e := &env{
		t:       t,
		ctx:     context.Background(),
		dir:     directory.NewStore(db, registry),
		sites:   sites.NewStore(db, registry),
		metrics: observability.NewMetrics(nil),
	}
	e.engine = roles.NewEngine(roles.NewStore(db, registry), e.dir, e.sites)
	roles.NewReactor(e.engine).Register(registry)

	svc, err := NewService(e.dir, e.sites, e.engine, cfg, nil, e.metrics)
	require.NoError(t, err)
	svc.Register(registry)
	e.svc = svc
	return e
}

func (e *env) user(name string, staff, superuser bool) *directory.User {
	e.t.Helper()
	u := &directory.User{Username: name, IsStaff: staff, IsSuperuser: superuser}
	require.NoError(e.t, e.dir.CreateUser(e.ctx, u))
	return u
}

func (e *env) group(name string, codenames ...string) *directory.Group {
	e.t.Helper()
	g := &directory.Group{Name: name}
	require.NoError(e.t, e.dir.CreateGroup(e.ctx, g))
	for _, codename := range codenames {
		c, err := e.dir.EnsureCapability(e.ctx, codename, codename)
		require.NoError(e.t, err)
		require.NoError(e.t, e.dir.AddGroupCapability(e.ctx, g.ID, c.ID))
	}
	return g
}

func (e *env) site(domain string) *sites.Site {
	e.t.Helper()
	s := &sites.Site{Domain: domain, Name: domain}
	require.NoError(e.t, e.sites.CreateSite(e.ctx, s))
	return s
}

func (e *env) globalPermission(gp roles.GlobalPermission) {
	e.t.Helper()
	require.NoError(e.t, e.engine.Store().CreateGlobalPermission(e.ctx, &gp))
}

func domains(ss []sites.Site) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.Domain
	}
	return out
}

func TestIsSiteAdmin(t *testing.T) {
	e := newEnv(t, DefaultConfig())
	admins := e.group("site-admins", DefaultCapability)

	root := e.user("root", false, true)
	staff := e.user("staff", true, false)
	admin := e.user("admin", true, false)
	notStaff := e.user("not-staff", false, false)
	require.NoError(t, e.dir.AddUserToGroup(e.ctx, admin.ID, admins.ID))
	require.NoError(t, e.dir.AddUserToGroup(e.ctx, notStaff.ID, admins.ID))

	direct := e.user("direct", true, false)
	marker, err := e.dir.GetCapability(e.ctx, DefaultCapability)
	require.NoError(t, err)
	require.NoError(t, e.dir.AddUserCapability(e.ctx, direct.ID, marker.ID))

	tests := []struct {
		name string
		user *directory.User
		want bool
	}{
		{"superuser", root, true},
		{"staff without capability", staff, false},
		{"staff with capability through group", admin, true},
		{"capability without staff flag", notStaff, false},
		{"staff with direct capability", direct, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.svc.IsSiteAdmin(e.ctx, tt.user.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = e.svc.IsSiteAdmin(e.ctx, 999)
	assert.ErrorIs(t, err, directory.ErrUserNotFound)
}

func TestIsSiteAdmin_LegacyCapabilities(t *testing.T) {
	e := newEnv(t, Config{RequiredCapabilities: LegacyCapabilities})
	partial := e.group("partial", "auth.add_user", "auth.change_user")
	full := e.group("full", LegacyCapabilities...)

	ok, err := e.svc.IsSiteAdminGroup(e.ctx, partial.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.svc.IsSiteAdminGroup(e.ctx, full.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	u := e.user("joe", true, false)
	require.NoError(t, e.dir.AddUserToGroup(e.ctx, u.ID, full.ID))
	ok, err = e.svc.IsSiteAdmin(e.ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAdministeredSites(t *testing.T) {
	e := newEnv(t, DefaultConfig())
	a, b, c := e.site("a.site.com"), e.site("b.site.com"), e.site("c.site.com")
	admins := e.group("site-admins", DefaultCapability)
	editors := e.group("editors")

	joe := e.user("joe", true, false)
	require.NoError(t, e.dir.AddUserToGroup(e.ctx, joe.ID, admins.ID))
	require.NoError(t, e.dir.AddUserToGroup(e.ctx, joe.ID, editors.ID))

	e.globalPermission(roles.GlobalPermission{UserID: &joe.ID, SiteID: a.ID})
	e.globalPermission(roles.GlobalPermission{GroupID: &admins.ID, SiteID: b.ID})
	e.globalPermission(roles.GlobalPermission{GroupID: &admins.ID, SiteID: a.ID})
	// not a site-admin group
	e.globalPermission(roles.GlobalPermission{GroupID: &editors.ID, SiteID: c.ID})

	got, err := e.svc.AdministeredSites(e.ctx, joe.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.site.com", "b.site.com"}, domains(got))

	root := e.user("root", false, true)
	got, err = e.svc.AdministeredSites(e.ctx, root.ID)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	nobody := e.user("nobody", true, false)
	got, err = e.svc.AdministeredSites(e.ctx, nobody.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAdministeredSites_CacheInvalidation(t *testing.T) {
	e := newEnv(t, DefaultConfig())
	a, b := e.site("a"), e.site("b")
	admins := e.group("site-admins", DefaultCapability)
	joe := e.user("joe", true, false)
	require.NoError(t, e.dir.AddUserToGroup(e.ctx, joe.ID, admins.ID))
	e.globalPermission(roles.GlobalPermission{GroupID: &admins.ID, SiteID: a.ID})

	got, err := e.svc.AdministeredSites(e.ctx, joe.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, domains(got))
	_, err = e.svc.AdministeredSites(e.ctx, joe.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.CacheHitsTotal))

	// new grant purges
	e.globalPermission(roles.GlobalPermission{GroupID: &admins.ID, SiteID: b.ID})
	got, err = e.svc.AdministeredSites(e.ctx, joe.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, domains(got))

	// losing the marker capability purges
	marker, err := e.dir.GetCapability(e.ctx, DefaultCapability)
	require.NoError(t, err)
	require.NoError(t, e.dir.RemoveGroupCapability(e.ctx, admins.ID, marker.ID))
	got, err = e.svc.AdministeredSites(e.ctx, joe.ID)
	require.NoError(t, err)
	assert.Empty(t, got)

	// a deleted site disappears
	require.NoError(t, e.dir.AddGroupCapability(e.ctx, admins.ID, marker.ID))
	require.NoError(t, e.sites.DeleteSite(e.ctx, a.ID))
	got, err = e.svc.AdministeredSites(e.ctx, joe.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, domains(got))
}

func TestAuthorizeSite(t *testing.T) {
	e := newEnv(t, DefaultConfig())
	a, b := e.site("a"), e.site("b")
	joe := e.user("joe", true, false)
	e.globalPermission(roles.GlobalPermission{UserID: &joe.ID, SiteID: a.ID})

	assert.NoError(t, e.svc.AuthorizeSite(e.ctx, joe.ID, a.ID))
	assert.ErrorIs(t, e.svc.AuthorizeSite(e.ctx, joe.ID, b.ID), ErrPermissionDenied)
}

func TestSiteUsers(t *testing.T) {
	e := newEnv(t, DefaultConfig())
	foo := e.site("foo")
	bar := e.site("bar")
	require.NoError(t, e.sites.CreatePage(e.ctx, &sites.Page{SiteID: foo.ID, Title: "home"}))

	editor := &roles.Role{Name: "editor", GroupID: e.group("editor").ID, IsSiteWide: true, Permissions: permissions.Of(permissions.CanChange)}
	require.NoError(t, e.engine.Create(e.ctx, editor))
	writer := &roles.Role{Name: "writer", GroupID: e.group("writer").ID, Permissions: permissions.Of(permissions.CanAdd)}
	require.NoError(t, e.engine.Create(e.ctx, writer))

	george := e.user("george", false, false)
	robin := e.user("robin", false, false)
	both := e.user("both", false, false)
	require.NoError(t, e.engine.GrantToUser(e.ctx, editor, george.ID, foo.ID))
	require.NoError(t, e.engine.GrantToUser(e.ctx, writer, robin.ID, foo.ID))
	require.NoError(t, e.engine.GrantToUser(e.ctx, editor, both.ID, foo.ID))
	require.NoError(t, e.engine.GrantToUser(e.ctx, writer, both.ID, foo.ID))

	got, err := e.svc.SiteUsers(e.ctx, foo.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "both", got[0].User.Username)
	assert.Equal(t, "writer", got[0].Role.Name, "the last role wins")
	assert.Equal(t, "george", got[1].User.Username)
	assert.Equal(t, "editor", got[1].Role.Name)
	assert.Equal(t, "robin", got[2].User.Username)
	assert.Equal(t, "writer", got[2].Role.Name)

	got, err = e.svc.SiteUsers(e.ctx, bar.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewService_Defaults(t *testing.T) {
	svc, err := NewService(nil, nil, nil, Config{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultCapability}, svc.required)
}

func TestAdministeredSites_ConcurrentCallers(t *testing.T) {
	e := newEnv(t, DefaultConfig())
	e.site("a.example.com")
	e.site("b.example.com")
	root := e.user("root", true, true)

	var wg sync.WaitGroup
	results := make([][]sites.Site, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.svc.AdministeredSites(e.ctx, root.ID)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Len(t, results[i], 2)
	}

	// every caller got its own copy
	results[0][0].Name = "changed"
	again, err := e.svc.AdministeredSites(e.ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.example.com", again[0].Name)
}

func TestAdministeredSites_InsideTransaction(t *testing.T) {
	e := newEnv(t, DefaultConfig())
	e.site("a.example.com")
	root := e.user("root", true, true)

	err := e.engine.Store().DB().WithTx(e.ctx, func(ctx context.Context) error {
		require.NoError(t, e.sites.CreateSite(ctx, &sites.Site{Domain: "b.example.com", Name: "b"}))
		list, err := e.svc.AdministeredSites(ctx, root.ID)
		require.NoError(t, err)
		assert.Len(t, list, 2)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, e.svc.cache.Len())
}

func TestAdministeredSites_PurgedAgainAfterCommit(t *testing.T) {
	e := newEnv(t, DefaultConfig())
	a := e.site("a.example.com")
	root := e.user("root", true, true)

	err := e.engine.Store().DB().WithTx(e.ctx, func(ctx context.Context) error {
		require.NoError(t, e.sites.CreateSite(ctx, &sites.Site{Domain: "b.example.com", Name: "b"}))
		// a reader outside the transaction caches the old committed state
		e.svc.cache.Add(root.ID, []sites.Site{*a})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, e.svc.cache.Len())

	got, err := e.svc.AdministeredSites(e.ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, domains(got))
}

func TestAdministeredSites_RolledBackChangeKeepsCache(t *testing.T) {
	e := newEnv(t, DefaultConfig())
	a := e.site("a.example.com")
	root := e.user("root", true, true)
	purges := testutil.ToFloat64(e.metrics.CachePurgesTotal)

	err := e.engine.Store().DB().WithTx(e.ctx, func(ctx context.Context) error {
		require.NoError(t, e.sites.CreateSite(ctx, &sites.Site{Domain: "b.example.com", Name: "b"}))
		e.svc.cache.Add(root.ID, []sites.Site{*a})
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, e.svc.cache.Len())
	assert.Equal(t, purges+1, testutil.ToFloat64(e.metrics.CachePurgesTotal))
}
