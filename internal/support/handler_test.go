package support

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"empathai/internal/severity"
	logx "empathai/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postTrigger(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/trigger-support", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerUsesHigherSeverity(t *testing.T) {
	h := NewHandler(nil, logx.Nop())

	rec := postTrigger(t, h, `{"message":"I will kill you","severity":"Low"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var out HandlerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, severity.High, out.Severity)
	assert.Equal(t, []string{"kill"}, out.Hits)
	assert.NotEmpty(t, out.Reply)

	rec = postTrigger(t, h, `{"message":"that was rude","severity":"Medium"}`)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, severity.Medium, out.Severity)
}

func TestHandlerRejectsBadInput(t *testing.T) {
	h := NewHandler(nil, logx.Nop())

	assert.Equal(t, http.StatusBadRequest, postTrigger(t, h, `{"message":"   "}`).Code)
	assert.Equal(t, http.StatusBadRequest, postTrigger(t, h, `not json`).Code)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trigger-support", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestClientAgainstLocalHandler(t *testing.T) {
	srv := httptest.NewServer(NewHandler(nil, logx.Nop()))
	defer srv.Close()

	r := newTestClient(srv.URL, 0).FetchReply(testContext(t), "he keeps trying to touch me", severity.Medium)
	assert.False(t, r.Fallback)
	assert.Equal(t, serverText[severity.Medium], r.Text)
}
