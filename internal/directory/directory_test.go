package directory

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/messaging-service/internal/models"
)

func TestPostgresDirectory(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := NewPostgresDirectory(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "display_name", "avatar_url"}).
			AddRow("alice", "Alice", "").
			AddRow("bob", "Bob", "https://cdn/bob.png"))
	users, err := dir.GetUsers(ctx, []string{"alice", "bob", "ghost"})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "https://cdn/bob.png", users["bob"].AvatarURL)
	assert.NotSame(t, users["alice"], users["bob"])

	mock.ExpectQuery(regexp.QuoteMeta("FROM listings")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "price", "status", "owner_id", "cover_image_url"}).
			AddRow("bike", "Road bike", 120.5, "SOLD", "bob", ""))
	listings, err := dir.GetListings(ctx, []string{"bike"})
	require.NoError(t, err)
	require.Contains(t, listings, "bike")
	assert.Equal(t, models.ListingSold, listings["bike"].Status)
	assert.Equal(t, 120.5, listings["bike"].Price)

	empty, err := dir.GetUsers(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryDirectoryReturnsCopies(t *testing.T) {
	dir := NewMemoryDirectory()
	dir.PutListing(models.Listing{ID: "lamp", Status: models.ListingAvailable})

	listings, err := dir.GetListings(context.Background(), []string{"lamp", "missing"})
	require.NoError(t, err)
	require.Len(t, listings, 1)
	listings["lamp"].Status = models.ListingSold

	again, err := dir.GetListings(context.Background(), []string{"lamp"})
	require.NoError(t, err)
	assert.Equal(t, models.ListingAvailable, again["lamp"].Status)
}
