package prefs

import (
	"context"
	"testing"

	"empathai/internal/permission"
	"empathai/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	ctx := context.Background()
	p := New(storage.NewMemory())

	on, err := p.NotificationsEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, on)

	voice, err := p.Voice(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultVoice, voice)

	st, err := p.LoadPermission(ctx)
	require.NoError(t, err)
	assert.Equal(t, permission.Unrequested, st)
}

func TestSetValidates(t *testing.T) {
	ctx := context.Background()
	p := New(nil)

	assert.Error(t, p.Set(ctx, "theme", "dark"))
	assert.Error(t, p.Set(ctx, KeyTTS, "maybe"))
	assert.Error(t, p.Set(ctx, KeyVoice, "robot"))
	assert.Error(t, p.Set(ctx, KeyNotificationPermission, "perhaps"))

	require.NoError(t, p.Set(ctx, KeyTTS, "true"))
	tts, err := p.TTS(ctx)
	require.NoError(t, err)
	assert.True(t, tts)
}

func TestPermissionRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := New(storage.NewMemory())

	require.NoError(t, p.SavePermission(ctx, permission.Granted))
	require.NoError(t, p.SetNotificationsEnabled(ctx, true))

	st, err := p.LoadPermission(ctx)
	require.NoError(t, err)
	assert.Equal(t, permission.Granted, st)

	on, err := p.NotificationsEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, on)
}
