package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/cmsroles/pkg/app"
	"github.com/platinummonkey/cmsroles/pkg/config"
	"github.com/platinummonkey/cmsroles/pkg/directory"
	"github.com/platinummonkey/cmsroles/pkg/observability"
	"github.com/platinummonkey/cmsroles/pkg/permissions"
	"github.com/platinummonkey/cmsroles/pkg/roles"
	"github.com/platinummonkey/cmsroles/pkg/siteadmin"
	"github.com/platinummonkey/cmsroles/pkg/sites"
	"github.com/platinummonkey/cmsroles/pkg/storage"
	"github.com/platinummonkey/cmsroles/pkg/storage/storagetest"
)

type harness struct {
	t   *testing.T
	ctx context.Context
	app *app.App
	env *Env
	out *bytes.Buffer
	err *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithLogger(t, observability.NewNopLogger())
}

func newHarnessWithLogger(t *testing.T, log *observability.Logger) *harness {
	t.Helper()
	cfg := &config.Config{
		Database:      storage.Config{Driver: storage.DialectSQLite, DSN: "file::memory:"},
		Observability: config.ObservabilityConfig{LogLevel: "error", LogFormat: "json"},
		SiteAdmin: config.SiteAdminConfig{
			Capabilities: []string{siteadmin.DefaultCapability},
			CacheSize:    8,
		},
	}
	a, err := app.NewWithDB(cfg, storagetest.NewSQLite(t), app.WithLogger(log))
	require.NoError(t, err)

	h := &harness{t: t, ctx: context.Background(), app: a, out: &bytes.Buffer{}, err: &bytes.Buffer{}}
	h.env = &Env{
		Out:  h.out,
		Err:  h.err,
		Load: func() (*app.App, error) { return a, nil },
	}
	return h
}

func (h *harness) run(args ...string) error {
	h.t.Helper()
	h.out.Reset()
	h.err.Reset()
	return NewRootCommand(h.env).Execute(h.out, args)
}

func (h *harness) user(name string) *directory.User {
	u := &directory.User{Username: name}
	require.NoError(h.t, h.app.Directory.CreateUser(h.ctx, u))
	return u
}

func (h *harness) site(domain string) *sites.Site {
	s := &sites.Site{Domain: domain, Name: domain}
	require.NoError(h.t, h.app.Sites.CreateSite(h.ctx, s))
	return s
}

func (h *harness) page(site *sites.Site, title string) *sites.Page {
	p := &sites.Page{SiteID: site.ID, Title: title}
	require.NoError(h.t, h.app.Sites.CreatePage(h.ctx, p))
	return p
}

func (h *harness) role(name string, siteWide bool, flags ...permissions.Flag) *roles.Role {
	g := &directory.Group{Name: name + "-base"}
	require.NoError(h.t, h.app.Directory.CreateGroup(h.ctx, g))
	r := &roles.Role{Name: name, GroupID: g.ID, IsSiteWide: siteWide, Permissions: permissions.Of(flags...)}
	require.NoError(h.t, h.app.Roles.Create(h.ctx, r))
	return r
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand(&Env{Out: &bytes.Buffer{}, Err: &bytes.Buffer{}})

	assert.Equal(t, "cmsroles", root.Name)
	expectedCommands := []string{
		"migrate",
		"load-roles",
		"list-roles",
		"grant",
		"ungrant",
		"site-users",
		"administered-sites",
		"manage-page-permissions",
		"reconcile",
	}
	for _, name := range expectedCommands {
		assert.Contains(t, root.Subcommands, name, "Expected subcommand %s to be registered", name)
	}
	assert.Equal(t, len(expectedCommands), len(root.Subcommands))
}

func TestCommandExecute_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--HELP"}, {"help"}} {
		var out bytes.Buffer
		root := NewRootCommand(&Env{Out: &out, Err: &out})
		require.NoError(t, root.Execute(&out, args))
		assert.Contains(t, out.String(), "Usage: cmsroles <command> [args]")
		assert.Contains(t, out.String(), "manage-page-permissions")
	}
}

func TestCommandExecute_UnknownCommand(t *testing.T) {
	var out bytes.Buffer
	err := NewRootCommand(&Env{Out: &out, Err: &out}).Execute(&out, []string{"nonexistent"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command: nonexistent")
}

func TestEnv_LoadError(t *testing.T) {
	var out bytes.Buffer
	env := &Env{Out: &out, Err: &out, Load: func() (*app.App, error) { return nil, errors.New("boom") }}
	err := NewRootCommand(env).Execute(&out, []string{"list-roles"})
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
	assert.NoError(t, env.Close())
}

func TestMigrateCommand(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run("migrate"))
	assert.Contains(t, h.out.String(), "Migrations applied")
}

func TestLoadRolesAndListRoles(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
roles:
  - name: editor
    group: editors
    permissions: [can_change, can_view]
  - name: writer
    group: writers
    site_wide: false
    permissions: [can_add]
`), 0o600))

	require.NoError(t, h.run("load-roles", "-f", path))
	assert.Equal(t, "created: [editor, writer] updated: [] unchanged: []\n", h.out.String())

	require.NoError(t, h.run("load-roles", "-f", path))
	assert.Contains(t, h.out.String(), "unchanged: [editor, writer]")

	require.NoError(t, h.run("list-roles"))
	out := h.out.String()
	assert.Contains(t, out, "NAME")
	assert.Regexp(t, `editor\s+editors\s+site_wide\s+can_change,can_view`, out)
	assert.Regexp(t, `writer\s+writers\s+page_scoped\s+can_add`, out)

	require.NoError(t, h.run("list-roles", "-json"))
	assert.Contains(t, h.out.String(), `"mode": "page_scoped"`)
}

func TestLoadRoles_RequiresFile(t *testing.T) {
	h := newHarness(t)
	err := h.run("load-roles")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "role definition file is required")
}

func TestGrantAndUngrant_SiteWide(t *testing.T) {
	h := newHarness(t)
	site := h.site("a.example.com")
	h.role("editor", true, permissions.CanChange)
	h.user("alice")

	require.NoError(t, h.run("grant", "-role", "editor", "-user", "alice", "-site", "a.example.com"))
	assert.Contains(t, h.out.String(), "Granted role editor to alice on a.example.com")

	require.NoError(t, h.run("site-users", "-site", strconv.FormatInt(site.ID, 10)))
	assert.Regexp(t, `alice\s+editor`, h.out.String())

	err := h.run("grant", "-role", "editor", "-user", "alice", "-site", "a.example.com", "-pages", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "site-wide")

	require.NoError(t, h.run("ungrant", "-role", "editor", "-user", "alice", "-site", "a.example.com"))
	users, err := h.app.Roles.Users(h.ctx, mustRole(t, h, "editor"), site.ID)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestGrantAndUngrant_Actor(t *testing.T) {
	h := newHarness(t)
	h.site("a.example.com")
	h.role("editor", true, permissions.CanChange)
	h.user("alice")
	h.user("mallory")
	root := &directory.User{Username: "root", IsStaff: true, IsSuperuser: true}
	require.NoError(t, h.app.Directory.CreateUser(h.ctx, root))

	err := h.run("grant", "-role", "editor", "-user", "alice", "-site", "a.example.com", "-actor", "mallory")
	assert.ErrorIs(t, err, siteadmin.ErrPermissionDenied)
	users, err := h.app.Roles.AllUsers(h.ctx, mustRole(t, h, "editor"))
	require.NoError(t, err)
	assert.Empty(t, users)

	err = h.run("grant", "-role", "editor", "-user", "alice", "-site", "a.example.com", "-actor", "nobody")
	assert.ErrorIs(t, err, directory.ErrUserNotFound)

	require.NoError(t, h.run("grant", "-role", "editor", "-user", "alice", "-site", "a.example.com", "-actor", "root"))

	err = h.run("ungrant", "-role", "editor", "-user", "alice", "-site", "a.example.com", "-actor", "mallory")
	assert.ErrorIs(t, err, siteadmin.ErrPermissionDenied)
	require.NoError(t, h.run("ungrant", "-role", "editor", "-user", "alice", "-site", "a.example.com", "-actor", "root"))
}

func TestGrant_PageScoped(t *testing.T) {
	h := newHarness(t)
	site := h.site("b.example.com")
	h.page(site, "home")
	second := h.page(site, "about")
	h.role("writer", false, permissions.CanAdd)
	h.user("bob")

	require.NoError(t, h.run("grant", "-role", "writer", "-user", "bob", "-site", "b.example.com",
		"-pages", strconv.FormatInt(second.ID, 10)))

	grants, err := h.app.Roles.Store().PageGrants(h.ctx, mustRole(t, h, "writer").ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, second.ID, grants[0].PageID)

	err = h.run("grant", "-role", "writer", "-user", "bob", "-site", "b.example.com", "-pages", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid id")
}

func TestGrant_Lookups(t *testing.T) {
	h := newHarness(t)
	h.site("c.example.com")
	h.role("editor", true)
	h.user("carol")

	tests := []struct {
		name string
		args []string
		want error
	}{
		{"unknown role", []string{"-role", "ghost", "-user", "carol", "-site", "c.example.com"}, roles.ErrNotFound},
		{"unknown user", []string{"-role", "editor", "-user", "ghost", "-site", "c.example.com"}, directory.ErrUserNotFound},
		{"unknown site", []string{"-role", "editor", "-user", "carol", "-site", "ghost.example.com"}, sites.ErrSiteNotFound},
		{"unknown site id", []string{"-role", "editor", "-user", "carol", "-site", "999"}, sites.ErrSiteNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.run(append([]string{"grant"}, tt.args...)...)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAdministeredSitesCommand(t *testing.T) {
	h := newHarness(t)
	h.site("one.example.com")
	h.site("two.example.com")
	root := &directory.User{Username: "root", IsSuperuser: true}
	require.NoError(t, h.app.Directory.CreateUser(h.ctx, root))

	require.NoError(t, h.run("administered-sites", "-user", "root"))
	assert.Contains(t, h.out.String(), "one.example.com")
	assert.Contains(t, h.out.String(), "two.example.com")

	require.NoError(t, h.run("administered-sites", "-user", "root", "-json"))
	assert.Contains(t, h.out.String(), `"domain": "one.example.com"`)
}

func TestManagePagePermissionsCommand(t *testing.T) {
	h := newHarness(t)
	h.role("editor", true)

	err := h.run("manage-page-permissions", "-role", "editor")
	assert.ErrorIs(t, err, roles.ErrRoleIsSiteWide)

	h.role("writer", false)
	require.NoError(t, h.run("manage-page-permissions", "-role", "writer"))
	assert.Contains(t, h.out.String(), "Role writer now manages 0 page permission(s); 0 conflict(s)")

	err = h.run("manage-page-permissions")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "role is required")
}

func mustRole(t *testing.T, h *harness, name string) *roles.Role {
	t.Helper()
	role, err := h.app.Roles.GetByName(h.ctx, name)
	require.NoError(t, err)
	return role
}

func TestReconcileCommand(t *testing.T) {
	h := newHarness(t)
	h.site("r.example.com")
	role := h.role("editor", true, permissions.CanChange)
	_, err := h.app.Roles.Store().UpdateSiteGrantFlags(h.ctx, role.ID, permissions.Set{})
	require.NoError(t, err)

	require.NoError(t, h.run("reconcile"))
	assert.Equal(t, "roles: 1 derived: 0 repaired: 1\n", h.out.String())
}

func TestReconcileCommand_Schedule(t *testing.T) {
	h := newHarness(t)

	err := h.run("reconcile", "-schedule", "not a schedule")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")

	ctx, cancel := context.WithCancel(context.Background())
	h.env.Ctx = ctx
	time.AfterFunc(50*time.Millisecond, cancel)
	require.NoError(t, h.run("reconcile", "-schedule", "@every 1h"))
}

func TestLoadRoles_Watch(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "roles.yaml")
	write := func(doc string) {
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	}
	write("roles:\n  - name: editor\n    group: editors\n    permissions: [can_view]\n")

	ctx, cancel := context.WithCancel(context.Background())
	h.env.Ctx = ctx
	done := make(chan error, 1)
	go func() {
		done <- NewRootCommand(h.env).Execute(h.out, []string{"load-roles", "-f", path, "-watch"})
	}()

	require.Eventually(t, func() bool {
		_, err := h.app.Roles.GetByName(h.ctx, "editor")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	// rewritten on every poll since the watcher starts after the first apply
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("roles:\n  - name: editor\n    group: editors\n    permissions: [can_view, can_publish]\n"), 0o600)
		role, err := h.app.Roles.GetByName(h.ctx, "editor")
		return err == nil && role.Permissions.Has(permissions.CanPublish)
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("load-roles -watch did not stop")
	}
}

func TestEnvContext_RunID(t *testing.T) {
	h := newHarness(t)

	ctx := h.env.Context()
	runID := observability.GetRunID(ctx)
	require.NotEmpty(t, runID)
	assert.Equal(t, runID, observability.GetRunID(h.env.Context()))
	_, ok := ctx.Value(observability.LoggerKey).(*observability.Logger)
	assert.False(t, ok, "no logger before the app is built")

	a, err := h.env.App()
	require.NoError(t, err)
	assert.Same(t, a.Log, observability.GetLogger(h.env.Context()))

	pass := newRun(h.env.Context())
	assert.NotEqual(t, runID, observability.GetRunID(pass))
}

func TestReconcileCommand_LogsCarryRunID(t *testing.T) {
	var buf bytes.Buffer
	h := newHarnessWithLogger(t, observability.NewLogger(observability.InfoLevel, &buf))
	h.role("editor", true, permissions.CanChange)
	buf.Reset()

	require.NoError(t, h.run("reconcile"))
	runID := observability.GetRunID(h.env.Context())

	var found bool
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["msg"] == "reconciled roles" {
			found = true
			assert.Equal(t, runID, entry["run_id"])
			assert.Equal(t, "roles", entry["component"])
		}
	}
	assert.True(t, found, "reconcile summary not logged: %s", buf.String())
}
