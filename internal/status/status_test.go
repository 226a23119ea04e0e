package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalnet/ircbot/internal/irc"
	"github.com/dalnet/ircbot/internal/logger"
)

type fakeSource struct {
	snap irc.Snapshot
	caps irc.CapState
}

func (f *fakeSource) Snapshot() irc.Snapshot { return f.snap }
func (f *fakeSource) Caps() irc.CapState     { return f.caps }

func init() {
	gin.SetMode(gin.TestMode)
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	src := &fakeSource{snap: irc.Snapshot{Nick: "bot"}}
	s := NewServer(src, logger.Nop())

	w := get(t, s, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	src.snap.Registered = true
	w = get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"registered":true,"nick":"bot"}`, w.Body.String())
}

func TestState(t *testing.T) {
	src := &fakeSource{
		snap: irc.Snapshot{
			Nick:       "bot",
			Registered: true,
			Network:    "ExampleNet",
			ISupport:   map[string]string{"CHANTYPES": "#&"},
			Users:      3,
			Channels: []irc.ChannelSummary{
				{Name: "#chan", Topic: "hello", Members: 3, Ranks: map[string]int{"o": 1}},
			},
		},
		caps: irc.CapState{Enabled: []string{"multi-prefix", "sasl"}},
	}
	s := NewServer(src, logger.Nop())

	w := get(t, s, "/state")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "bot", body["nick"])
	assert.Equal(t, "ExampleNet", body["network"])
	assert.Equal(t, map[string]any{"CHANTYPES": "#&"}, body["isupport"])
	assert.Equal(t, map[string]any{
		"negotiating": false,
		"enabled":     []any{"multi-prefix", "sasl"},
	}, body["caps"])

	channels := body["channels"].([]any)
	require.Len(t, channels, 1)
	assert.Equal(t, "#chan", channels[0].(map[string]any)["name"])
	assert.InDelta(t, 3, channels[0].(map[string]any)["members"], 0)
}

func TestMetrics(t *testing.T) {
	s := NewServer(&fakeSource{}, logger.Nop())
	w := get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ircbot_lines_received_total")
}
