package irc

import (
	"encoding/base64"
	"testing"

	"github.com/dalnet/ircbot/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNegotiator(wanted []string, user, pass string) (*Negotiator, *recorder) {
	rec := &recorder{}
	return NewNegotiator(wanted, user, pass, rec, logger.Nop()), rec
}

func TestNegotiatorSASLHappyPath(t *testing.T) {
	n, rec := newTestNegotiator([]string{"multi-prefix"}, "alice", "secret")

	require.NoError(t, n.Start())
	assert.Equal(t, []string{"CAP LS 302"}, rec.take())
	assert.True(t, n.Active())

	require.NoError(t, n.HandleCap(parse(t, ":srv CAP * LS :multi-prefix sasl=PLAIN")))
	assert.Equal(t, []string{"CAP REQ :multi-prefix sasl"}, rec.take())

	require.NoError(t, n.HandleCap(parse(t, ":srv CAP * ACK :multi-prefix sasl")))
	assert.Equal(t, []string{"AUTHENTICATE PLAIN"}, rec.take())

	require.NoError(t, n.HandleAuthenticate(parse(t, "AUTHENTICATE +")))
	payload := base64.StdEncoding.EncodeToString([]byte("alice\x00alice\x00secret"))
	assert.Equal(t, []string{"AUTHENTICATE " + payload}, rec.take())

	require.NoError(t, n.HandleSASLResult(true))
	assert.Equal(t, []string{"CAP END"}, rec.take())
	assert.False(t, n.Active())

	st := n.State()
	assert.Equal(t, []string{"multi-prefix", "sasl"}, st.Enabled)
	assert.Equal(t, st.Enabled, st.Finished)
	assert.Empty(t, st.Requested)

	// A late duplicate must neither resend CAP END nor reset state.
	require.NoError(t, n.HandleCap(parse(t, ":srv CAP * ACK :multi-prefix sasl")))
	require.NoError(t, n.HandleSASLResult(true))
	assert.Empty(t, rec.take())
	assert.Equal(t, st.Enabled, n.State().Enabled)
}

func TestNegotiatorIgnoresACKAfterEnd(t *testing.T) {
	n, rec := newTestNegotiator([]string{"multi-prefix"}, "", "")
	require.NoError(t, n.Start())
	require.NoError(t, n.HandleCap(parse(t, ":srv CAP * LS :multi-prefix away-notify")))
	require.NoError(t, n.HandleCap(parse(t, ":srv CAP * ACK :multi-prefix")))
	assert.Equal(t, []string{"CAP LS 302", "CAP REQ :multi-prefix", "CAP END"}, rec.take())
	before := n.State()

	require.NoError(t, n.HandleCap(parse(t, ":srv CAP * ACK :away-notify")))
	require.NoError(t, n.HandleCap(parse(t, ":srv CAP * ACK :-multi-prefix")))
	require.NoError(t, n.HandleCap(parse(t, ":srv CAP * NAK :multi-prefix")))
	require.NoError(t, n.HandleCap(parse(t, ":srv CAP * NEW :echo-message")))

	after := n.State()
	assert.Empty(t, rec.take())
	assert.False(t, after.Init)
	assert.Equal(t, []string{"multi-prefix"}, after.Enabled)
	assert.Equal(t, before.Enabled, after.Enabled)
	assert.Equal(t, before.Finished, after.Finished)
	assert.Contains(t, after.Available, "echo-message")
}

func TestNegotiatorMultilineLS(t *testing.T) {
	n, rec := newTestNegotiator([]string{"multi-prefix", "away-notify"}, "", "")
	require.NoError(t, n.Start())
	rec.take()

	require.NoError(t, n.HandleCap(parse(t, ":srv CAP * LS * :away-notify extended-join")))
	assert.Empty(t, rec.take(), "continuation lines wait for the final LS")

	require.NoError(t, n.HandleCap(parse(t, ":srv CAP * LS :multi-prefix sasl")))
	assert.Equal(t, []string{"CAP REQ :away-notify multi-prefix"}, rec.take())

	require.NoError(t, n.HandleCap(parse(t, ":srv CAP * ACK :away-notify multi-prefix")))
	assert.Equal(t, []string{"CAP END"}, rec.take())
	assert.True(t, n.IsEnabled("away-notify"))
	assert.False(t, n.IsEnabled("sasl"), "sasl is not desired without credentials")
}

func TestNegotiatorNothingWanted(t *testing.T) {
	n, rec := newTestNegotiator([]string{"multi-prefix"}, "", "")
	require.NoError(t, n.Start())
	rec.take()

	require.NoError(t, n.HandleCap(parse(t, ":srv CAP * LS :extended-join")))
	assert.Equal(t, []string{"CAP END"}, rec.take())
	assert.False(t, n.Active())
}

func TestNegotiatorNAK(t *testing.T) {
	n, rec := newTestNegotiator([]string{"multi-prefix"}, "", "")
	require.NoError(t, n.Start())
	require.NoError(t, n.HandleCap(parse(t, ":srv CAP * LS :multi-prefix")))
	rec.take()

	require.NoError(t, n.HandleCap(parse(t, ":srv CAP * NAK :multi-prefix")))
	assert.Equal(t, []string{"CAP END"}, rec.take())
	assert.False(t, n.IsEnabled("multi-prefix"))
}

func TestNegotiatorSASLFailure(t *testing.T) {
	n, rec := newTestNegotiator(nil, "alice", "wrong")
	require.NoError(t, n.Start())
	require.NoError(t, n.HandleCap(parse(t, ":srv CAP * LS :sasl")))
	require.NoError(t, n.HandleCap(parse(t, ":srv CAP * ACK :sasl")))
	require.NoError(t, n.HandleAuthenticate(parse(t, "AUTHENTICATE +")))
	rec.take()

	require.NoError(t, n.HandleSASLResult(false))
	assert.Equal(t, []string{"CAP END"}, rec.take())
	assert.False(t, n.Active())
}

func TestNegotiatorUnsupportedMechanism(t *testing.T) {
	n, rec := newTestNegotiator(nil, "alice", "secret")
	require.NoError(t, n.Start())
	require.NoError(t, n.HandleCap(parse(t, ":srv CAP * LS :sasl=EXTERNAL")))
	rec.take()

	require.NoError(t, n.HandleCap(parse(t, ":srv CAP * ACK :sasl")))
	assert.Equal(t, []string{"CAP END"}, rec.take())
}

func TestNegotiatorNoCapSupport(t *testing.T) {
	n, rec := newTestNegotiator([]string{"multi-prefix"}, "", "")
	require.NoError(t, n.Start())
	rec.take()

	n.HandleUnsupported()
	assert.False(t, n.Active())
	assert.Empty(t, rec.take(), "no CAP END for a server without CAP")
}

func TestNegotiatorStartResets(t *testing.T) {
	n, rec := newTestNegotiator([]string{"multi-prefix"}, "", "")
	require.NoError(t, n.Start())
	require.NoError(t, n.HandleCap(parse(t, ":srv CAP * LS :multi-prefix")))
	require.NoError(t, n.HandleCap(parse(t, ":srv CAP * ACK :multi-prefix")))
	require.True(t, n.IsEnabled("multi-prefix"))

	require.NoError(t, n.Start())
	assert.False(t, n.IsEnabled("multi-prefix"))
	assert.True(t, n.Active())
	assert.Equal(t, []string{"CAP LS 302", "CAP REQ :multi-prefix", "CAP END", "CAP LS 302"}, rec.take())
}
