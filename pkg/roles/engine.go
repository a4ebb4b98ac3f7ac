package roles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/platinummonkey/cmsroles/pkg/audit"
	"github.com/platinummonkey/cmsroles/pkg/directory"
	"github.com/platinummonkey/cmsroles/pkg/observability"
	"github.com/platinummonkey/cmsroles/pkg/sites"
	"github.com/platinummonkey/cmsroles/pkg/storage"
)

// Engine keeps roles and their derived grants consistent. Every mutating
// operation runs in one transaction.
type Engine struct {
	db           *storage.DB
	store        *Store
	dir          *directory.Store
	sites        *sites.Store
	materializer *Materializer
	siteWide     *siteWideStrategy
	pageScoped   *pageScopedStrategy
	validate     *validator.Validate
	log          *observability.Logger
	metrics      *observability.Metrics
	audit        audit.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(log *observability.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithMetrics sets the engine metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithAuditLogger sets the audit sink
func WithAuditLogger(a audit.Logger) Option {
	return func(e *Engine) {
		e.audit = a
	}
}

// NewEngine creates a role engine on top of the role, directory and site stores
func NewEngine(store *Store, dir *directory.Store, siteStore *sites.Store, opts ...Option) *Engine {
	e := &Engine{
		db:       store.DB(),
		store:    store,
		dir:      dir,
		sites:    siteStore,
		validate: validator.New(),
		log:      observability.NewNopLogger(),
		metrics:  observability.NewMetrics(nil),
		audit:    audit.NoopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.WithField("component", "roles")
	e.materializer = &Materializer{store: store, dir: dir, log: e.log, metrics: e.metrics}
	e.siteWide = &siteWideStrategy{e: e}
	e.pageScoped = &pageScopedStrategy{e: e}
	return e
}

// Store returns the role store
func (e *Engine) Store() *Store {
	return e.store
}

// Materializer returns the derived group materializer
func (e *Engine) Materializer() *Materializer {
	return e.materializer
}

// Strategy returns the grant strategy for the role's mode
func (e *Engine) Strategy(role *Role) GrantStrategy {
	if role.IsSiteWide {
		return e.siteWide
	}
	return e.pageScoped
}

func (e *Engine) observe(operation string, start time.Time, errp *error) {
	e.metrics.ObserveOperation(operation, start, *errp)
}

func (e *Engine) record(ctx context.Context, event *audit.Event, err error) {
	if logErr := e.audit.Log(ctx, event.Failed(err)); logErr != nil {
		e.log.ForContext(ctx).WithError(logErr).WithField("event_type", string(event.EventType)).Warn("failed to write audit event")
	}
}

func (e *Engine) validateRole(role *Role) error {
	if err := e.validate.Struct(role); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRole, err)
	}
	return nil
}

// current reloads the persisted state of role
func (e *Engine) current(ctx context.Context, role *Role) (*Role, error) {
	if role == nil || role.ID == 0 {
		return nil, fmt.Errorf("%w: role is not persisted", ErrNotFound)
	}
	return e.store.GetRole(ctx, role.ID)
}

// checkUniqueness rejects a name or base group already used by another role,
// and base groups that are derived groups.
func (e *Engine) checkUniqueness(ctx context.Context, role *Role) error {
	other, err := e.store.GetRoleByName(ctx, role.Name)
	switch {
	case err == nil && other.ID != role.ID:
		return fmt.Errorf("%w: a role named %q already exists", ErrUniqueness, role.Name)
	case err != nil && !errors.Is(err, ErrNotFound):
		return err
	}

	other, err = e.store.GetRoleByGroup(ctx, role.GroupID)
	switch {
	case err == nil && other.ID != role.ID:
		return fmt.Errorf("%w: role %q is already based on group %d", ErrUniqueness, other.Name, role.GroupID)
	case err != nil && !errors.Is(err, ErrNotFound):
		return err
	}

	group, err := e.dir.GetGroup(ctx, role.GroupID)
	if err != nil {
		return err
	}
	owner, err := e.store.RoleOwningDerivedGroup(ctx, role.GroupID)
	switch {
	case err == nil:
		return fmt.Errorf("%w: group %q is a derived group of role %q", ErrUniqueness, group.Name, owner.Name)
	case !errors.Is(err, ErrNotFound):
		return err
	}
	if group.IsDerived() {
		return fmt.Errorf("%w: group %q is a derived group", ErrUniqueness, group.Name)
	}
	return nil
}

// Create validates and persists a new role, then derives its grants
func (e *Engine) Create(ctx context.Context, role *Role) (err error) {
	defer e.observe("create", time.Now(), &err)
	if err := e.validateRole(role); err != nil {
		return err
	}

	err = e.db.WithTx(ctx, func(ctx context.Context) error {
		if err := e.checkUniqueness(ctx, role); err != nil {
			return err
		}
		if err := e.store.InsertRole(ctx, role); err != nil {
			return err
		}
		return e.Strategy(role).Derive(ctx, role)
	})
	if err != nil {
		role.ID = 0
	}
	e.record(ctx, audit.NewEvent(audit.EventTypeRoleCreate, role.ID, role.Name).
		WithMetadata("mode", string(role.Mode())), err)
	return err
}

// Save persists changes to role and propagates them to its derived grants:
// flag changes, a new base group and a mode switch.
func (e *Engine) Save(ctx context.Context, role *Role) (err error) {
	defer e.observe("save", time.Now(), &err)
	if err := e.validateRole(role); err != nil {
		return err
	}

	var old *Role
	err = e.db.WithTx(ctx, func(ctx context.Context) error {
		old, err = e.current(ctx, role)
		if err != nil {
			return err
		}
		if err := e.checkUniqueness(ctx, role); err != nil {
			return err
		}
		if err := e.store.UpdateRole(ctx, role); err != nil {
			return err
		}

		if old.IsSiteWide != role.IsSiteWide {
			if role.IsSiteWide {
				return e.toSiteWide(ctx, old, role)
			}
			return e.toPageScoped(ctx, role)
		}

		strategy := e.Strategy(role)
		if old.Permissions != role.Permissions {
			n, err := strategy.PropagateFlags(ctx, role)
			if err != nil {
				return err
			}
			e.metrics.FlagPropagationsTotal.WithLabelValues(string(role.Mode())).Add(float64(n))
		}
		if old.GroupID != role.GroupID {
			if err := e.baseGroupChanged(ctx, old, role); err != nil {
				return err
			}
		}
		return strategy.Derive(ctx, role)
	})

	eventType := audit.EventTypeRoleUpdate
	event := audit.NewEvent(eventType, role.ID, role.Name)
	if old != nil {
		if old.IsSiteWide != role.IsSiteWide {
			event.EventType = audit.EventTypeRoleModeSwitch
		}
		event.Changes = &audit.ChangeDetails{Before: roleChanges(old), After: roleChanges(role)}
	}
	e.record(ctx, event, err)
	return err
}

func roleChanges(r *Role) map[string]interface{} {
	return map[string]interface{}{
		"name":         r.Name,
		"group_id":     r.GroupID,
		"is_site_wide": r.IsSiteWide,
		"permissions":  r.Permissions.String(),
	}
}

func (e *Engine) baseGroupChanged(ctx context.Context, old, role *Role) error {
	if role.IsSiteWide {
		return e.materializer.Mirror(ctx, role)
	}

	// page-scoped grantees carry the base group as a marker, move them over
	grants, err := e.store.PageGrants(ctx, role.ID)
	if err != nil {
		return err
	}
	seen := make(map[int64]bool)
	for _, pp := range grants {
		if seen[pp.UserID] {
			continue
		}
		seen[pp.UserID] = true
		if err := e.dir.RemoveUserFromGroup(ctx, pp.UserID, old.GroupID); err != nil {
			return err
		}
		if err := e.dir.AddUserToGroup(ctx, pp.UserID, role.GroupID); err != nil {
			return err
		}
	}
	return nil
}

// toSiteWide turns every page grant into membership of the site's derived group
func (e *Engine) toSiteWide(ctx context.Context, old, role *Role) error {
	pageGrants, err := e.store.PageGrants(ctx, role.ID)
	if err != nil {
		return err
	}
	if err := e.siteWide.Derive(ctx, role); err != nil {
		return err
	}

	users := make(map[int64]bool)
	for _, pp := range pageGrants {
		group, err := e.siteWide.siteGroup(ctx, role, pp.SiteID)
		if errors.Is(err, ErrIntegrity) {
			e.log.ForContext(ctx).WithError(err).WithField("role", role.Name).Warn("skipping page grant during mode switch")
			continue
		}
		if err != nil {
			return err
		}
		if err := e.dir.AddUserToGroup(ctx, pp.UserID, group.ID); err != nil {
			return err
		}
		users[pp.UserID] = true
	}

	if err := e.pageScoped.Teardown(ctx, role); err != nil {
		return err
	}
	for userID := range users {
		if err := e.dir.RemoveUserFromGroup(ctx, userID, old.GroupID); err != nil {
			return err
		}
	}
	e.log.ForContext(ctx).WithFields(map[string]interface{}{
		"role":        role.Name,
		"page_grants": len(pageGrants),
		"users":       len(users),
	}).Info("switched role to site wide")
	return nil
}

// toPageScoped grants every member of each derived group the role page by page
// on that group's site, flags them as staff, then destroys the derived groups.
func (e *Engine) toPageScoped(ctx context.Context, role *Role) error {
	grants, err := e.store.SiteGrants(ctx, role.ID)
	if err != nil {
		return err
	}

	var converted int
	for _, grant := range grants {
		if grant.GroupID == nil {
			e.materializer.integrityWarning(role, grant.SiteID, "site_grant_without_group")
			continue
		}
		members, err := e.dir.GroupMembers(ctx, *grant.GroupID)
		if err != nil {
			return err
		}
		for _, member := range members {
			err := e.pageScoped.Grant(ctx, role, member.ID, grant.SiteID, nil)
			if errors.Is(err, ErrNoPageAvailable) {
				e.log.ForContext(ctx).WithFields(map[string]interface{}{
					"role":    role.Name,
					"site_id": grant.SiteID,
					"user_id": member.ID,
				}).Warn("site has no pages, grant dropped during mode switch")
				continue
			}
			if err != nil {
				return err
			}
			if !member.IsStaff {
				if err := e.dir.SetStaff(ctx, member.ID, true); err != nil {
					return err
				}
			}
			converted++
		}
	}

	if err := e.siteWide.Teardown(ctx, role); err != nil {
		return err
	}
	e.log.ForContext(ctx).WithFields(map[string]interface{}{
		"role":        role.Name,
		"site_grants": len(grants),
		"users":       converted,
	}).Info("switched role to page scoped")
	return nil
}

// Delete tears down every derived grant of the role, then deletes it
func (e *Engine) Delete(ctx context.Context, roleID int64) (err error) {
	defer e.observe("delete", time.Now(), &err)

	var role *Role
	err = e.db.WithTx(ctx, func(ctx context.Context) error {
		role, err = e.store.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		// both modes, so drifted leftovers of the other mode go too
		if err := e.siteWide.Teardown(ctx, role); err != nil {
			return err
		}
		if err := e.pageScoped.Teardown(ctx, role); err != nil {
			return err
		}
		return e.store.DeleteRole(ctx, role.ID)
	})

	name := ""
	if role != nil {
		name = role.Name
	}
	e.record(ctx, audit.NewEvent(audit.EventTypeRoleDelete, roleID, name), err)
	return err
}

// GrantToUser gives userID the role on siteID. Page-scoped roles grant on
// pageIDs, or on the site's first page when none are given and the user holds
// nothing on the site yet. The user is flagged as staff.
func (e *Engine) GrantToUser(ctx context.Context, role *Role, userID, siteID int64, pageIDs ...int64) (err error) {
	defer e.observe("grant", time.Now(), &err)

	var current *Role
	err = e.db.WithTx(ctx, func(ctx context.Context) error {
		current, err = e.current(ctx, role)
		if err != nil {
			return err
		}
		user, err := e.dir.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if _, err := e.sites.GetSite(ctx, siteID); err != nil {
			return err
		}
		if err := e.Strategy(current).Grant(ctx, current, userID, siteID, pageIDs); err != nil {
			return err
		}
		if !user.IsStaff {
			return e.dir.SetStaff(ctx, userID, true)
		}
		return nil
	})

	if current == nil {
		current = role
	}
	if err == nil {
		e.metrics.GrantsTotal.WithLabelValues(string(current.Mode()), "grant").Inc()
	}
	e.record(ctx, audit.NewEvent(audit.EventTypeRoleGrant, current.ID, current.Name).
		ForUser(userID, siteID).WithMetadata("pages", len(pageIDs)), err)
	return err
}

// UngrantFromUser takes the role on siteID away from userID
func (e *Engine) UngrantFromUser(ctx context.Context, role *Role, userID, siteID int64) (err error) {
	defer e.observe("ungrant", time.Now(), &err)

	var current *Role
	err = e.db.WithTx(ctx, func(ctx context.Context) error {
		current, err = e.current(ctx, role)
		if err != nil {
			return err
		}
		return e.Strategy(current).Ungrant(ctx, current, userID, siteID)
	})

	if current == nil {
		current = role
	}
	if err == nil {
		e.metrics.GrantsTotal.WithLabelValues(string(current.Mode()), "ungrant").Inc()
	}
	e.record(ctx, audit.NewEvent(audit.EventTypeRoleUngrant, current.ID, current.Name).ForUser(userID, siteID), err)
	return err
}

// AllUsers lists the users holding the role on any site
func (e *Engine) AllUsers(ctx context.Context, role *Role) ([]directory.User, error) {
	current, err := e.current(ctx, role)
	if err != nil {
		return nil, err
	}
	return e.Strategy(current).AllUsers(ctx, current)
}

// Users lists the users holding the role on siteID
func (e *Engine) Users(ctx context.Context, role *Role, siteID int64) ([]directory.User, error) {
	current, err := e.current(ctx, role)
	if err != nil {
		return nil, err
	}
	return e.Strategy(current).Users(ctx, current, siteID)
}

// SiteSpecificGroup returns the derived group of role on siteID. It fails with
// ErrNotFound when the site has no grant and ErrIntegrity when it has several.
func (e *Engine) SiteSpecificGroup(ctx context.Context, role *Role, siteID int64) (*directory.Group, error) {
	return e.siteSpecificGroup(ctx, role, siteID)
}

func (e *Engine) siteSpecificGroup(ctx context.Context, role *Role, siteID int64) (*directory.Group, error) {
	grants, err := e.store.SiteGrantsForSite(ctx, role.ID, siteID)
	if err != nil {
		return nil, err
	}
	switch {
	case len(grants) == 0:
		return nil, fmt.Errorf("%w: role %q has no grant on site %d", ErrNotFound, role.Name, siteID)
	case len(grants) > 1:
		e.metrics.IntegrityWarningsTotal.WithLabelValues("duplicate_site_grant").Inc()
		return nil, fmt.Errorf("%w: role %q has %d grants on site %d", ErrIntegrity, role.Name, len(grants), siteID)
	case grants[0].GroupID == nil:
		e.metrics.IntegrityWarningsTotal.WithLabelValues("site_grant_without_group").Inc()
		return nil, fmt.Errorf("%w: grant %d of role %q has no group", ErrIntegrity, grants[0].ID, role.Name)
	}

	group, err := e.dir.GetGroup(ctx, *grants[0].GroupID)
	if errors.Is(err, directory.ErrGroupNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return group, err
}

// Get retrieves a role by ID
func (e *Engine) Get(ctx context.Context, id int64) (*Role, error) {
	return e.store.GetRole(ctx, id)
}

// GetByName retrieves a role by name
func (e *Engine) GetByName(ctx context.Context, name string) (*Role, error) {
	return e.store.GetRoleByName(ctx, name)
}

// List lists every role by name
func (e *Engine) List(ctx context.Context) ([]Role, error) {
	return e.store.ListRoles(ctx)
}
