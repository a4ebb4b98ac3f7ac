// Package siteadmin answers which users hold which role on a site, and which
// sites a user administers.
package siteadmin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/cmsroles/pkg/directory"
	"github.com/platinummonkey/cmsroles/pkg/events"
	"github.com/platinummonkey/cmsroles/pkg/observability"
	"github.com/platinummonkey/cmsroles/pkg/roles"
	"github.com/platinummonkey/cmsroles/pkg/sites"
	"github.com/platinummonkey/cmsroles/pkg/storage"
)

// ErrPermissionDenied is returned when a user does not administer a site
var ErrPermissionDenied = errors.New("siteadmin: permission denied")

// DefaultCapability marks site administrators
const DefaultCapability = "cmsroles.user_setup"

// LegacyCapabilities is the older marker set: full control over user accounts
var LegacyCapabilities = []string{"auth.add_user", "auth.change_user", "auth.delete_user"}

// Config configures the service
type Config struct {
	// RequiredCapabilities must all be held to count as site administrator
	RequiredCapabilities []string
	// CacheSize bounds the administered-sites cache, in users
	CacheSize int
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		RequiredCapabilities: []string{DefaultCapability},
		CacheSize:            1024,
	}
}

// SiteUser is a user and the role it holds on a site
type SiteUser struct {
	User directory.User `json:"user"`
	Role roles.Role     `json:"role"`
}

// Service implements the site and user topology queries
type Service struct {
	dir      *directory.Store
	sites    *sites.Store
	engine   *roles.Engine
	required []string
	cache    *lru.Cache[int64, []sites.Site]
	loads    singleflight.Group
	gen      atomic.Uint64
	log      *observability.Logger
	metrics  *observability.Metrics
}

// NewService creates a topology service
func NewService(dir *directory.Store, siteStore *sites.Store, engine *roles.Engine, cfg Config, log *observability.Logger, metrics *observability.Metrics) (*Service, error) {
	if len(cfg.RequiredCapabilities) == 0 {
		cfg.RequiredCapabilities = []string{DefaultCapability}
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultConfig().CacheSize
	}
	cache, err := lru.New[int64, []sites.Site](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create administered sites cache: %w", err)
	}
	if log == nil {
		log = observability.NewNopLogger()
	}
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	return &Service{
		dir:      dir,
		sites:    siteStore,
		engine:   engine,
		required: cfg.RequiredCapabilities,
		cache:    cache,
		log:      log.WithField("component", "siteadmin"),
		metrics:  metrics,
	}, nil
}

// Register purges the cache on every change that can alter administered sites.
// Changes made in a transaction purge again once it commits, so loads that
// read the old committed state in between are dropped too.
func (s *Service) Register(registry *events.Registry) {
	purge := func(ctx context.Context, ev events.Event) error {
		s.Purge()
		if storage.InTx(ctx) {
			storage.AfterCommit(ctx, s.Purge)
		}
		return nil
	}
	registry.On(events.KindUser, events.PostSave, purge)
	registry.On(events.KindUser, events.RelationChanged, purge)
	registry.On(events.KindGroup, events.RelationChanged, purge)
	registry.On(events.KindGroup, events.PostDelete, purge)
	registry.On(events.KindSite, events.PostSave, purge)
	registry.On(events.KindSite, events.PostDelete, purge)
	registry.On(events.KindGlobalPermission, events.PostSave, purge)
	registry.On(events.KindGlobalPermission, events.PostDelete, purge)
}

// Purge empties the administered-sites cache
func (s *Service) Purge() {
	s.gen.Add(1)
	s.cache.Purge()
	s.metrics.CachePurgesTotal.Inc()
}

func hasAll(have []string, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, c := range have {
		set[c] = true
	}
	for _, c := range want {
		if !set[c] {
			return false
		}
	}
	return true
}

// IsSiteAdmin reports whether the user is a superuser, or a staff member
// holding every required capability directly or through a group
func (s *Service) IsSiteAdmin(ctx context.Context, userID int64) (bool, error) {
	user, err := s.dir.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if user.IsSuperuser {
		return true, nil
	}
	if !user.IsStaff {
		return false, nil
	}
	codenames, err := s.dir.UserCapabilities(ctx, userID)
	if err != nil {
		return false, err
	}
	return hasAll(codenames, s.required), nil
}

// IsSiteAdminGroup reports whether membership of the group makes a site admin
func (s *Service) IsSiteAdminGroup(ctx context.Context, groupID int64) (bool, error) {
	caps, err := s.dir.GroupCapabilities(ctx, groupID)
	if err != nil {
		return false, err
	}
	codenames := make([]string, len(caps))
	for i, c := range caps {
		codenames[i] = c.Codename
	}
	return hasAll(codenames, s.required), nil
}

// AdministeredSites lists the sites the user administers: every site for a
// superuser, otherwise the sites of the user's own global page permissions
// and of the global page permissions of the user's site-admin groups.
func (s *Service) AdministeredSites(ctx context.Context, userID int64) ([]sites.Site, error) {
	if cached, ok := s.cache.Get(userID); ok {
		s.metrics.CacheHitsTotal.Inc()
		return append([]sites.Site(nil), cached...), nil
	}
	s.metrics.CacheMissesTotal.Inc()

	// uncommitted state must not outlive its transaction
	if storage.InTx(ctx) {
		return s.administeredSites(ctx, userID)
	}

	v, err, _ := s.loads.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		gen := s.gen.Load()
		result, err := s.administeredSites(ctx, userID)
		if err != nil {
			return nil, err
		}
		// a purge while loading means result may already be stale
		if s.gen.Load() == gen {
			s.cache.Add(userID, result)
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]sites.Site(nil), v.([]sites.Site)...), nil
}

func (s *Service) administeredSites(ctx context.Context, userID int64) ([]sites.Site, error) {
	user, err := s.dir.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsSuperuser {
		return s.sites.ListSites(ctx)
	}

	store := s.engine.Store()
	perms, err := store.GlobalPermissionsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	groups, err := s.dir.UserGroups(ctx, userID)
	if err != nil {
		return nil, err
	}
	var adminGroups []int64
	for _, g := range groups {
		ok, err := s.IsSiteAdminGroup(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			adminGroups = append(adminGroups, g.ID)
		}
	}
	groupPerms, err := store.GlobalPermissionsForGroups(ctx, adminGroups)
	if err != nil {
		return nil, err
	}
	perms = append(perms, groupPerms...)

	seen := make(map[int64]bool)
	var ids []int64
	for _, p := range perms {
		if !seen[p.SiteID] {
			seen[p.SiteID] = true
			ids = append(ids, p.SiteID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]sites.Site, 0, len(ids))
	for _, id := range ids {
		site, err := s.sites.GetSite(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *site)
	}
	return out, nil
}

// AuthorizeSite fails with ErrPermissionDenied unless the user administers siteID
func (s *Service) AuthorizeSite(ctx context.Context, userID, siteID int64) error {
	administered, err := s.AdministeredSites(ctx, userID)
	if err != nil {
		return err
	}
	for _, site := range administered {
		if site.ID == siteID {
			return nil
		}
	}
	return fmt.Errorf("%w: user %d does not administer site %d", ErrPermissionDenied, userID, siteID)
}

// SiteUsers maps every user holding a role on siteID to that role. A user
// holding several roles keeps the last one by role name, and the overlap is logged.
func (s *Service) SiteUsers(ctx context.Context, siteID int64) ([]SiteUser, error) {
	all, err := s.engine.List(ctx)
	if err != nil {
		return nil, err
	}

	byUser := make(map[int64]SiteUser)
	for i := range all {
		role := all[i]
		users, err := s.engine.Users(ctx, &role, siteID)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			if prev, ok := byUser[u.ID]; ok {
				s.log.ForContext(ctx).WithFields(map[string]interface{}{
					"user":     u.Username,
					"site_id":  siteID,
					"replaced": prev.Role.Name,
					"role":     role.Name,
				}).Warn("user holds more than one role on site")
			}
			byUser[u.ID] = SiteUser{User: u, Role: role}
		}
	}

	out := make([]SiteUser, 0, len(byUser))
	for _, su := range byUser {
		out = append(out, su)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User.Username < out[j].User.Username })
	return out, nil
}
