package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "receipts.db")

	s, err := OpenSQLite(ctx, path, "sqlite", nil)
	require.NoError(t, err)
	defer s.Close()

	u1, err := s.EnsureUser(ctx, "alice")
	require.NoError(t, err)
	again, err := s.EnsureUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u1.ID, again.ID)
	assert.False(t, u1.CreatedAt.IsZero())

	u2, err := s.EnsureUser(ctx, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, u1.ID, u2.ID)

	subID := uuid.New()
	require.NoError(t, s.AppendLineItems(ctx, u1, lineItems(subID, 3)))

	var count int
	require.NoError(t, s.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE submission_id = ? AND user_id = ?`, subID.String(), u1.ID).Scan(&count))
	assert.Equal(t, 3, count)

	var price, date string
	require.NoError(t, s.DB().QueryRowContext(ctx,
		`SELECT price, receipt_date FROM products WHERE seq = 2`).Scan(&price, &date))
	assert.Equal(t, "1.29", price)
	assert.Equal(t, "2024-11-20", date)

	// reopening keeps existing data and is a no-op migration
	require.NoError(t, s.Close())
	s2, err := OpenSQLite(ctx, path, "sqlite", nil)
	require.NoError(t, err)
	defer s2.Close()
	u, err := s2.EnsureUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u1.ID, u.ID)
}
