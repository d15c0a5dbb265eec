package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketfeed/internal/infrastructure/db"
)

func TestDefaultConfig(t *testing.T) {
	cfg := db.DefaultConfig()

	assert.Equal(t, 10, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 30*time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxIdleTime)
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout)
	assert.False(t, cfg.Enabled)
}

func TestNewManager_Disabled(t *testing.T) {
	manager, err := db.NewManager(db.Config{Enabled: false})
	require.NoError(t, err)

	assert.NotNil(t, manager)
	assert.False(t, manager.IsEnabled())
	assert.Nil(t, manager.Repository())
	assert.Nil(t, manager.DB())

	health := manager.Health()
	require.NotNil(t, health)
	check := health.Health(context.Background())
	assert.True(t, check.Healthy)
	assert.Contains(t, check.Errors[0], "disabled")

	assert.NoError(t, health.Ping(context.Background()))
	assert.NoError(t, manager.Close())
}

func TestNewManager_MissingDSN(t *testing.T) {
	_, err := db.NewManager(db.Config{Enabled: true, DSN: ""})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "DSN is required")
}
