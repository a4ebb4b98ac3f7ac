package sites

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const pageColumns = `id, site_id, parent_id, position, title`

type scanner interface {
	Scan(dest ...any) error
}

func scanPage(row scanner) (*Page, error) {
	var p Page
	var parentID sql.NullInt64
	if err := row.Scan(&p.ID, &p.SiteID, &parentID, &p.Position, &p.Title); err != nil {
		return nil, err
	}
	if parentID.Valid {
		id := parentID.Int64
		p.ParentID = &id
	}
	return &p, nil
}

// CreatePage inserts a page. A parent, when set, must belong to the same site.
func (s *Store) CreatePage(ctx context.Context, page *Page) error {
	return s.db.WithTx(ctx, func(ctx context.Context) error {
		if page.ParentID != nil {
			parent, err := s.GetPage(ctx, *page.ParentID)
			if err != nil {
				return err
			}
			if parent.SiteID != page.SiteID {
				return fmt.Errorf("parent page %d belongs to site %d, not %d", parent.ID, parent.SiteID, page.SiteID)
			}
		}

		var parentID sql.NullInt64
		if page.ParentID != nil {
			parentID = sql.NullInt64{Int64: *page.ParentID, Valid: true}
		}
		if err := s.db.Conn(ctx).QueryRowContext(ctx, `
			INSERT INTO pages (site_id, parent_id, position, title)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, page.SiteID, parentID, page.Position, page.Title).Scan(&page.ID); err != nil {
			return fmt.Errorf("failed to create page: %w", err)
		}
		return nil
	})
}

// GetPage retrieves a page by ID
func (s *Store) GetPage(ctx context.Context, id int64) (*Page, error) {
	p, err := scanPage(s.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrPageNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	return p, nil
}

// ListPages returns the pages of a site, root pages first, each level in position order
func (s *Store) ListPages(ctx context.Context, siteID int64) ([]Page, error) {
	rows, err := s.db.Conn(ctx).QueryContext(ctx, `
		SELECT `+pageColumns+`
		FROM pages
		WHERE site_id = $1
		ORDER BY CASE WHEN parent_id IS NULL THEN 0 ELSE 1 END, position, id
	`, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	var pages []Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		pages = append(pages, *p)
	}
	return pages, rows.Err()
}

// FirstPage returns the first root page of a site
func (s *Store) FirstPage(ctx context.Context, siteID int64) (*Page, error) {
	p, err := scanPage(s.db.Conn(ctx).QueryRowContext(ctx, `
		SELECT `+pageColumns+`
		FROM pages
		WHERE site_id = $1 AND parent_id IS NULL
		ORDER BY position, id
		LIMIT 1
	`, siteID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: site %d", ErrNoPages, siteID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get first page: %w", err)
	}
	return p, nil
}

// DeletePage deletes a page and its descendants
func (s *Store) DeletePage(ctx context.Context, id int64) error {
	res, err := s.db.Conn(ctx).ExecContext(ctx, `DELETE FROM pages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete page: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrPageNotFound, id)
	}
	return nil
}
