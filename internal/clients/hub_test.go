package clients

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "empathai/pkg/logx"
)

func dial(t *testing.T, srv *httptest.Server, url string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?url=" + url
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.List()) == n }, 2*time.Second, 10*time.Millisecond)
}

func readCmd(t *testing.T, conn *websocket.Conn) Command {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var cmd Command
	require.NoError(t, conn.ReadJSON(&cmd))
	return cmd
}

func TestHubFocusNavigates(t *testing.T) {
	h := NewHub(logx.Nop())
	srv := httptest.NewServer(h)
	defer srv.Close()

	home := dial(t, srv, "/home")
	chat := dial(t, srv, "/chat")
	waitClients(t, h, 2)

	info, ok := h.Find("/chat")
	require.True(t, ok)
	require.NoError(t, h.Focus(info.ID, "/chat?auto=true&msg=hi"))

	assert.Equal(t, Command{Type: CmdFocus}, readCmd(t, chat))
	assert.Equal(t, Command{Type: CmdNavigate, URL: "/chat?auto=true&msg=hi"}, readCmd(t, chat))
	_ = home

	assert.ErrorIs(t, h.Focus("missing", ""), ErrUnknownClient)
}

func TestHubLocationAndClaim(t *testing.T) {
	h := NewHub(logx.Nop())
	srv := httptest.NewServer(h)
	defer srv.Close()

	page := dial(t, srv, "/settings")
	waitClients(t, h, 1)
	assert.False(t, h.List()[0].Controlled)

	assert.Equal(t, 1, h.Claim())
	assert.Equal(t, CmdClaim, readCmd(t, page).Type)
	assert.True(t, h.List()[0].Controlled)

	require.NoError(t, page.WriteJSON(Message{Type: MsgLocation, URL: "/chat"}))
	require.Eventually(t, func() bool {
		_, ok := h.Find("/chat")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	late := dial(t, srv, "/late")
	waitClients(t, h, 2)
	_ = late
	for _, c := range h.List() {
		assert.True(t, c.Controlled)
	}
}

func TestHubForwardsMessages(t *testing.T) {
	h := NewHub(logx.Nop())
	got := make(chan Message, 1)
	h.OnMessage(func(_ context.Context, _ string, m Message) { got <- m })
	srv := httptest.NewServer(h)
	defer srv.Close()

	page := dial(t, srv, "/")
	require.NoError(t, page.WriteJSON(Message{Type: MsgPing}))
	require.NoError(t, page.WriteJSON(Message{Type: MsgPush, Data: []byte(`{"title":"x"}`)}))

	select {
	case m := <-got:
		assert.Equal(t, MsgPush, m.Type)
		assert.JSONEq(t, `{"title":"x"}`, string(m.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("push message not forwarded")
	}
}

func TestHubDropsDisconnected(t *testing.T) {
	h := NewHub(logx.Nop())
	srv := httptest.NewServer(h)
	defer srv.Close()

	page := dial(t, srv, "/chat")
	waitClients(t, h, 1)
	_ = page.Close()
	waitClients(t, h, 0)
}
