package sites

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/cmsroles/pkg/events"
	"github.com/platinummonkey/cmsroles/pkg/storage"
)

var (
	ErrSiteNotFound = errors.New("sites: site not found")
	ErrPageNotFound = errors.New("sites: page not found")
	// ErrNoPages is returned by FirstPage when a site has no pages
	ErrNoPages = errors.New("sites: site has no pages")
)

// Site is a website served by the CMS
type Site struct {
	ID     int64  `json:"id"`
	Domain string `json:"domain"`
	Name   string `json:"name"`
}

// Page is a node in a site's page tree
type Page struct {
	ID       int64  `json:"id"`
	SiteID   int64  `json:"site_id"`
	ParentID *int64 `json:"parent_id,omitempty"`
	Position int    `json:"position"`
	Title    string `json:"title"`
}

// Store handles site and page persistence
type Store struct {
	db     *storage.DB
	events *events.Registry
}

// NewStore creates a new site store. registry may be nil.
func NewStore(db *storage.DB, registry *events.Registry) *Store {
	return &Store{db: db, events: registry}
}

// CreateSite inserts a site and notifies PostSave handlers
func (s *Store) CreateSite(ctx context.Context, site *Site) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		if err := s.db.Conn(ctx).QueryRowContext(ctx,
			`INSERT INTO sites (domain, name) VALUES ($1, $2) RETURNING id`,
			site.Domain, site.Name,
		).Scan(&site.ID); err != nil {
			return fmt.Errorf("failed to create site: %w", err)
		}
		return s.events.Dispatch(ctx, events.Event{Kind: events.KindSite, Lifecycle: events.PostSave, ID: site.ID, Created: true})
	})
}

// GetSite retrieves a site by ID
func (s *Store) GetSite(ctx context.Context, id int64) (*Site, error) {
	var site Site
	err := s.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT id, domain, name FROM sites WHERE id = $1`, id,
	).Scan(&site.ID, &site.Domain, &site.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrSiteNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get site: %w", err)
	}
	return &site, nil
}

// GetSiteByDomain retrieves the first site with the given domain
func (s *Store) GetSiteByDomain(ctx context.Context, domain string) (*Site, error) {
	var site Site
	err := s.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT id, domain, name FROM sites WHERE domain = $1 ORDER BY id LIMIT 1`, domain,
	).Scan(&site.ID, &site.Domain, &site.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSiteNotFound, domain)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get site: %w", err)
	}
	return &site, nil
}

// ListSites returns all sites ordered by ID
func (s *Store) ListSites(ctx context.Context) ([]Site, error) {
	rows, err := s.db.Conn(ctx).QueryContext(ctx, `SELECT id, domain, name FROM sites ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	defer rows.Close()

	var sites []Site
	for rows.Next() {
		var site Site
		if err := rows.Scan(&site.ID, &site.Domain, &site.Name); err != nil {
			return nil, fmt.Errorf("failed to scan site: %w", err)
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// DeleteSite deletes a site, notifying PreDelete and PostDelete handlers
func (s *Store) DeleteSite(ctx context.Context, id int64) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.GetSite(ctx, id); err != nil {
			return err
		}
		if err := s.events.Dispatch(ctx, events.Event{Kind: events.KindSite, Lifecycle: events.PreDelete, ID: id}); err != nil {
			return err
		}
		if _, err := s.db.Conn(ctx).ExecContext(ctx, `DELETE FROM sites WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete site: %w", err)
		}
		return s.events.Dispatch(ctx, events.Event{Kind: events.KindSite, Lifecycle: events.PostDelete, ID: id})
	})
}
