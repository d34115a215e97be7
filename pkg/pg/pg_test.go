package pg_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-COULIBALY/express-quote-sub001/pkg/pg"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthcheck(t *testing.T) {
	t.Parallel()

	require.NoError(t, pg.Healthcheck(stubPinger{})(context.Background()))

	err := pg.Healthcheck(stubPinger{err: errors.New("down")})(context.Background())
	assert.ErrorIs(t, err, pg.ErrHealthcheckFailed)
}

func TestUniqueViolation(t *testing.T) {
	t.Parallel()

	constraint, ok := pg.UniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "notifications_pkey"}))
	assert.True(t, ok)
	assert.Equal(t, "notifications_pkey", constraint)

	_, ok = pg.UniqueViolation(&pgconn.PgError{Code: "23503"})
	assert.False(t, ok)
	_, ok = pg.UniqueViolation(nil)
	assert.False(t, ok)
}

func TestConnect_Validation(t *testing.T) {
	t.Parallel()

	_, err := pg.Connect(context.Background(), pg.Config{})
	assert.ErrorIs(t, err, pg.ErrEmptyConnectionString)

	_, err = pg.Connect(context.Background(), pg.Config{ConnectionString: "://bad"})
	assert.ErrorIs(t, err, pg.ErrFailedToParseDBConfig)

	assert.False(t, pg.Config{}.Enabled())
}
