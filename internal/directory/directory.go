// Package directory reads users and listings owned by other services.
// Nothing here mutates them.
package directory

import (
	"context"
	"database/sql"
	"sync"

	"github.com/lib/pq"

	"marketplace/messaging-service/internal/models"
)

type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) GetUsers(ctx context.Context, ids []string) (map[string]*models.User, error) {
	result := make(map[string]*models.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := `
	SELECT id, display_name, COALESCE(avatar_url, '')
	FROM users
	WHERE id = ANY($1)
	`

	rows, err := d.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.AvatarURL); err != nil {
			return nil, err
		}
		result[u.ID] = &u
	}
	return result, rows.Err()
}

func (d *PostgresDirectory) GetListings(ctx context.Context, ids []string) (map[string]*models.Listing, error) {
	result := make(map[string]*models.Listing, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := `
	SELECT id, title, price, status, owner_id, COALESCE(cover_image_url, '')
	FROM listings
	WHERE id = ANY($1)
	`

	rows, err := d.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var l models.Listing
		var status string
		if err := rows.Scan(&l.ID, &l.Title, &l.Price, &status, &l.OwnerID, &l.CoverImageURL); err != nil {
			return nil, err
		}
		l.Status = models.ListingStatus(status)
		result[l.ID] = &l
	}
	return result, rows.Err()
}

// MemoryDirectory backs dev mode and tests.
type MemoryDirectory struct {
	mu       sync.RWMutex
	users    map[string]models.User
	listings map[string]models.Listing
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:    make(map[string]models.User),
		listings: make(map[string]models.Listing),
	}
}

func (d *MemoryDirectory) PutUser(u models.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *MemoryDirectory) PutListing(l models.Listing) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listings[l.ID] = l
}

func (d *MemoryDirectory) GetUsers(ctx context.Context, ids []string) (map[string]*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make(map[string]*models.User, len(ids))
	for _, id := range ids {
		if u, ok := d.users[id]; ok {
			result[id] = &u
		}
	}
	return result, nil
}

func (d *MemoryDirectory) GetListings(ctx context.Context, ids []string) (map[string]*models.Listing, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make(map[string]*models.Listing, len(ids))
	for _, id := range ids {
		if l, ok := d.listings[id]; ok {
			result[id] = &l
		}
	}
	return result, nil
}
