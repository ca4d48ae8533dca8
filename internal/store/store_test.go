package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tessierlabs/storeforge/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

const (
	sqlIsProvisioned   = `SELECT EXISTS(SELECT 1 FROM storefronts WHERE owner_id = $1)`
	sqlMarkProvisioned = `
		INSERT INTO storefronts (owner_id, domain, admin_url, provisioned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id) DO UPDATE
		SET domain = EXCLUDED.domain, admin_url = EXCLUDED.admin_url, provisioned_at = EXCLUDED.provisioned_at`
)

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestIsProvisioned(t *testing.T) {
	ctx := context.Background()

	t.Run("should report an existing storefront", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(context.Background(), mockPool, zap.NewNop())
		require.NoError(t, err)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlIsProvisioned)).
			WithArgs("owner-1").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

		got, err := store.IsProvisioned(ctx, "owner-1")
		require.NoError(t, err)
		assert.True(t, got)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report an absent storefront", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(context.Background(), mockPool, zap.NewNop())
		require.NoError(t, err)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlIsProvisioned)).
			WithArgs("owner-2").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

		got, err := store.IsProvisioned(ctx, "owner-2")
		require.NoError(t, err)
		assert.False(t, got)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should propagate query errors", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(context.Background(), mockPool, zap.NewNop())
		require.NoError(t, err)

		queryErr := errors.New("connection reset")
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlIsProvisioned)).
			WithArgs("owner-3").
			WillReturnError(queryErr)

		_, err = store.IsProvisioned(ctx, "owner-3")
		require.Error(t, err)
		assert.ErrorIs(t, err, queryErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestMarkProvisioned(t *testing.T) {
	ctx := context.Background()

	provisioned := schemas.Provisioned{
		Domain:        "acme-dev-482910",
		AdminURL:      "https://admin.shopify.com/store/acme-dev-482910",
		ProvisionedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}

	t.Run("should upsert the storefront row", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(context.Background(), mockPool, zap.NewNop())
		require.NoError(t, err)

		mockPool.ExpectExec(flexibleSQLMatcher(sqlMarkProvisioned)).
			WithArgs("owner-1", provisioned.Domain, provisioned.AdminURL, provisioned.ProvisionedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.MarkProvisioned(ctx, "owner-1", provisioned))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should convert timestamps to UTC before persisting", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(context.Background(), mockPool, zap.NewNop())
		require.NoError(t, err)

		loc, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)
		local := provisioned
		local.ProvisionedAt = time.Date(2026, 3, 14, 4, 30, 0, 0, loc)

		mockPool.ExpectExec(flexibleSQLMatcher(sqlMarkProvisioned)).
			WithArgs("owner-1", local.Domain, local.AdminURL, local.ProvisionedAt.UTC()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.MarkProvisioned(ctx, "owner-1", local))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should propagate exec errors", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(context.Background(), mockPool, zap.NewNop())
		require.NoError(t, err)

		execErr := errors.New("deadlock detected")
		mockPool.ExpectExec(flexibleSQLMatcher(sqlMarkProvisioned)).
			WithArgs("owner-1", provisioned.Domain, provisioned.AdminURL, provisioned.ProvisionedAt).
			WillReturnError(execErr)

		err = store.MarkProvisioned(ctx, "owner-1", provisioned)
		require.Error(t, err)
		assert.ErrorIs(t, err, execErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail when no row is written", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(context.Background(), mockPool, zap.NewNop())
		require.NoError(t, err)

		mockPool.ExpectExec(flexibleSQLMatcher(sqlMarkProvisioned)).
			WithArgs("owner-1", provisioned.Domain, provisioned.AdminURL, provisioned.ProvisionedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))

		err = store.MarkProvisioned(ctx, "owner-1", provisioned)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no row written")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
