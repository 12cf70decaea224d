package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "empathai/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDrivers(t *testing.T) map[string]func() Store {
	t.Helper()
	dir := t.TempDir()
	open := func(driver string) func() Store {
		return func() Store {
			st, err := Open(Config{Driver: driver, Path: filepath.Join(dir, driver, "empathd.db")}, logx.Nop())
			require.NoError(t, err)
			require.NotNil(t, st)
			return st
		}
	}
	return map[string]func() Store{
		"memory": open("memory"),
		"file":   open("file"),
		"sqlite": open("sqlite"),
	}
}

func TestStorePrefs(t *testing.T) {
	for name, open := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open()
			defer st.Close()

			_, ok, err := st.GetPref(ctx, "notificationsEnabled")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, st.SetPref(ctx, "notificationsEnabled", "true"))
			require.NoError(t, st.SetPref(ctx, "notificationsEnabled", "false"))
			v, ok, err := st.GetPref(ctx, "notificationsEnabled")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "false", v)
		})
	}
}

func TestStoreIncidents(t *testing.T) {
	for name, open := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open()
			defer st.Close()

			base := time.Now().Add(-time.Hour)
			for i := 0; i < 5; i++ {
				require.NoError(t, st.AppendIncident(ctx, Incident{
					At:        base.Add(time.Duration(i) * time.Minute),
					Severity:  "High",
					Source:    "dbus",
					App:       fmt.Sprintf("app-%d", i),
					Hits:      i,
					Presented: true,
				}))
			}

			got, err := st.ListIncidents(ctx, 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "app-4", got[0].App)
			assert.Equal(t, "app-3", got[1].App)
			assert.NotEmpty(t, got[0].ID)
			assert.True(t, got[0].Presented)

			removed, err := st.PruneIncidents(ctx, 3)
			require.NoError(t, err)
			assert.Equal(t, 2, removed)

			got, err = st.ListIncidents(ctx, 0)
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, "app-2", got[2].App)

			// Appends after a prune still land.
			require.NoError(t, st.AppendIncident(ctx, Incident{Severity: "Medium", Source: "push"}))
			got, err = st.ListIncidents(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, "Medium", got[0].Severity)
		})
	}
}

func TestStoreDedup(t *testing.T) {
	for name, open := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open()
			defer st.Close()

			until := time.Now().Add(time.Minute).Truncate(time.Millisecond)
			require.NoError(t, st.PutDedup(ctx, "k1", until))
			got, ok, err := st.GetDedup(ctx, "k1")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.True(t, until.Equal(got))

			_, ok, err = st.GetDedup(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state", "empathd")}

	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.SetPref(ctx, "empathai_voice", "male"))
	require.NoError(t, st.AppendIncident(ctx, Incident{Severity: "High", Source: "bridge"}))
	require.NoError(t, st.PutDedup(ctx, "relay", time.Now().Add(time.Hour)))
	require.NoError(t, st.Close())

	st, err = Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	v, ok, err := st.GetPref(ctx, "empathai_voice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "male", v)

	in, err := st.ListIncidents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, in, 1)

	_, ok, err = st.GetDedup(ctx, "relay")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	assert.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "redis"}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
}
