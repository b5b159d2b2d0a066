package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePoolConfig(t *testing.T) {
	const url = "postgres://u:p@localhost:5432/db?sslmode=disable"

	tests := []struct {
		name        string
		cfg         PoolConfig
		wantTimeout string
		wantMax     int32
	}{
		{"defaults", PoolConfig{URL: url}, "30000", 0},
		{"sized", PoolConfig{URL: url, MaxConns: 7, StatementTimeout: 2 * time.Second}, "2000", 7},
		{"server timeout untouched", PoolConfig{URL: url, StatementTimeout: -1}, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc, err := parsePoolConfig(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTimeout, pc.ConnConfig.RuntimeParams["statement_timeout"])
			if tt.wantMax > 0 {
				assert.Equal(t, tt.wantMax, pc.MaxConns)
			}
		})
	}
}

func TestParsePoolConfig_InvalidURL(t *testing.T) {
	_, err := parsePoolConfig(PoolConfig{URL: "postgres://%zz"})
	assert.Error(t, err)
}

func TestStatementContexts(t *testing.T) {
	for name, tt := range map[string]struct {
		fn   func(context.Context) (context.Context, context.CancelFunc)
		want time.Duration
	}{
		"query": {QueryContext, DefaultQueryTimeout},
		"write": {WriteContext, DefaultWriteTimeout},
		"bulk":  {BulkContext, DefaultBulkTimeout},
	} {
		ctx, cancel := tt.fn(context.Background())
		deadline, ok := ctx.Deadline()
		cancel()
		require.True(t, ok, name)
		assert.WithinDuration(t, time.Now().Add(tt.want), deadline, time.Second, name)
	}
}
