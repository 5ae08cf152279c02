package service

import (
	"context"
	"math"
	"time"

	"marketplace/messaging-service/internal/models"
)

// UserDirectory and ListingCatalog are read-only views of collaborator data.
type UserDirectory interface {
	GetUsers(ctx context.Context, ids []string) (map[string]*models.User, error)
}

type ListingCatalog interface {
	GetListings(ctx context.Context, ids []string) (map[string]*models.Listing, error)
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type settings struct {
	now             func() time.Time
	defaultPageSize int
	maxPageSize     int
}

type Option func(*settings)

func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

func WithPageSizes(defaultSize, maxSize int) Option {
	return func(s *settings) {
		if defaultSize > 0 {
			s.defaultPageSize = defaultSize
		}
		if maxSize > 0 {
			s.maxPageSize = maxSize
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		now:             time.Now,
		defaultPageSize: DefaultPageSize,
		maxPageSize:     MaxPageSize,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// timestamp returns the clock reading at the precision Postgres stores.
func (s settings) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s settings) pageBounds(page, pageSize int) (int, int) {
	if pageSize <= 0 {
		pageSize = s.defaultPageSize
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}
	if page < 0 {
		page = 0
	}
	return page, pageSize
}

// pageOffset saturates instead of overflowing so an absurd page lands past the end.
func pageOffset(page, pageSize int) int {
	if page > math.MaxInt/pageSize {
		return math.MaxInt
	}
	return page * pageSize
}
