package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"empathai/internal/source"
	logx "empathai/pkg/logx"
)

func post(t *testing.T, s *Source, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/notifications", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestServeHTTPDelivers(t *testing.T) {
	s := New(logx.Nop())
	var got []source.Event
	stop, err := s.Subscribe(testContext(t), func(_ context.Context, e source.Event) { got = append(got, e) })
	require.NoError(t, err)
	defer stop()

	rec := post(t, s, `{"title":"Alert","message":"someone is threatening to kill you","app":"web"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = post(t, s, `{"title":"B","body":"body wins"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, got, 2)
	assert.Equal(t, "Alert someone is threatening to kill you", got[0].Text())
	assert.Equal(t, "web", got[0].SourceApp)
	assert.Equal(t, "body wins", got[1].Body)
	assert.Equal(t, Name, got[1].Origin)
}

func TestInvalidPayloadStillInvokesHandler(t *testing.T) {
	s := New(logx.Nop())
	var got []source.Event
	stop, _ := s.Subscribe(testContext(t), func(_ context.Context, e source.Event) { got = append(got, e) })
	defer stop()

	assert.Equal(t, http.StatusAccepted, post(t, s, `{broken`).Code)
	assert.Equal(t, http.StatusAccepted, post(t, s, ``).Code)
	require.Len(t, got, 2)
	assert.Equal(t, "", got[0].Text())
	assert.Equal(t, "", got[1].Text())
}

func TestInactive(t *testing.T) {
	s := New(logx.Nop())
	assert.Equal(t, http.StatusServiceUnavailable, post(t, s, `{"title":"x"}`).Code)
	assert.ErrorIs(t, s.Deliver(source.Event{}), ErrInactive)

	stop, _ := s.Subscribe(testContext(t), func(context.Context, source.Event) {})
	assert.True(t, s.Active())
	stop()
	assert.False(t, s.Active())
}

func TestMethodNotAllowed(t *testing.T) {
	s := New(logx.Nop())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notifications", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
