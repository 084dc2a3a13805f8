package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JdeRobot/dl-objecttracker/internal/config"
)

func TestNewAppHonoursPausedConfig(t *testing.T) {
	for _, paused := range []bool{false, true} {
		cfg := config.DefaultConfig()
		cfg.Paused = paused
		cfg.Log.Dir = t.TempDir()

		app, err := NewApp(cfg)
		require.NoError(t, err)
		assert.Equal(t, !paused, app.pipeline.Enabled())
		app.monitor.Close()
		app.cancel()
	}
}

func TestNewAppRejectsOIDWithoutLabelMap(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Dataset = "oid"
	_, err := NewApp(cfg)
	assert.Error(t, err)
}
