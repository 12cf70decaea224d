package telegram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "empathai/pkg/logx"
)

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{Token: "  "}, nil, logx.Nop())
	assert.Error(t, err)
}

func TestAllowedAndNoChats(t *testing.T) {
	b, err := New(Config{Token: "123:abc", Offline: true, ChatIDs: []int64{42}}, nil, logx.Nop())
	require.NoError(t, err)
	assert.True(t, b.Allowed(42))
	assert.False(t, b.Allowed(7))

	empty, err := New(Config{Token: "123:abc", Offline: true}, nil, logx.Nop())
	require.NoError(t, err)
	assert.ErrorIs(t, empty.SendAlert(testContext(t), "hi"), ErrNoChats)
}

func TestStartWithoutCommandsIsNoop(t *testing.T) {
	b, err := New(Config{Token: "123:abc", Offline: true}, nil, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, b.Start(testContext(t)))
	require.NoError(t, b.Stop(testContext(t)))
}

func TestSplitText(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitText("short", 10))

	long := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	parts := splitText(long, 8)
	assert.Equal(t, []string{"aaaaaa", "bbbbbb"}, parts)

	runes := splitText(strings.Repeat("💜", 10), 4)
	require.Len(t, runes, 3)
	assert.Equal(t, strings.Repeat("💜", 4), runes[0])
}
