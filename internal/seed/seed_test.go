package seed

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yigit/hackhub/internal/backend"
	"github.com/yigit/hackhub/internal/backend/memory"
)

func TestCreateDefaultData_Idempotent(t *testing.T) {
	be := memory.New()
	t.Cleanup(be.Close)
	ctx := context.Background()

	require.NoError(t, CreateDefaultData(ctx, be, true, zerolog.Nop()))
	require.NoError(t, CreateDefaultData(ctx, be, true, zerolog.Nop()))

	assert.Len(t, be.Rows(backend.TableBadges), len(defaultBadges))
	assert.Len(t, be.Rows(backend.TableForums), len(defaultForums))
	users := be.Rows(backend.TableUsers)
	require.Len(t, users, 1)
	assert.Equal(t, DemoUserEmail, users[0].String("email"))
}

func TestCreateDefaultData_ReportsFailures(t *testing.T) {
	be := memory.New()
	t.Cleanup(be.Close)
	boom := errors.New("boom")
	be.FailNext(memory.OpInsert, backend.TableForums, boom)

	err := CreateDefaultData(context.Background(), be, false, zerolog.Nop())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, be.Rows(backend.TableBadges), len(defaultBadges))
	assert.Len(t, be.Rows(backend.TableForums), len(defaultForums)-1)
	assert.Empty(t, be.Rows(backend.TableUsers))
}
