package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseNormal(t *testing.T) {
	msg, err := Parse([]byte("USR userA passA"))
	require.NoError(t, err)

	normal, ok := msg.(NormalMessage)
	require.True(t, ok)
	require.Equal(t, CmdLogin, normal.Cmd)
	require.Equal(t, []string{"userA", "passA"}, normal.Params)
}

func TestParseNormalNoParams(t *testing.T) {
	msg, err := Parse([]byte("OUT"))
	require.NoError(t, err)

	normal, ok := msg.(NormalMessage)
	require.True(t, ok)
	require.Equal(t, CmdLogout, normal.Cmd)
	require.Empty(t, normal.Params)
}

func TestParsePayload(t *testing.T) {
	msg, err := Parse([]byte("MSG userB 4||ping"))
	require.NoError(t, err)

	payload, ok := msg.(PayloadMessage)
	require.True(t, ok)
	require.Equal(t, CmdMessage, payload.Cmd)
	require.Equal(t, []string{"userB"}, payload.Params)
	require.Equal(t, []byte("ping"), payload.Payload)
}

// The declared size is checked but never enforced; at least one legacy
// sender declares it wrong.
func TestParsePayloadSizeMismatchTolerated(t *testing.T) {
	msg, err := Parse([]byte("MSG userB 99||ping"))
	require.NoError(t, err)

	payload, ok := msg.(PayloadMessage)
	require.True(t, ok)
	require.Equal(t, CmdMessage, payload.Cmd)
	require.Equal(t, []string{"userB"}, payload.Params)
	require.Equal(t, []byte("ping"), payload.Payload)
}

// Legacy senders also omit the size outright, leaving the slot before
// the split sequence empty.
func TestParsePayloadSizeOmitted(t *testing.T) {
	msg, err := Parse([]byte("CMS 1 ||First message"))
	require.NoError(t, err)

	payload, ok := msg.(PayloadMessage)
	require.True(t, ok)
	require.Equal(t, CmdChatMessage, payload.Cmd)
	require.Equal(t, []string{"1"}, payload.Params)
	require.Equal(t, []byte("First message"), payload.Payload)
}

// Chat creation carries the chat name as the payload so it may contain
// spaces.
func TestParseCreateChat(t *testing.T) {
	msg, err := Parse([]byte("CCH ||New chat name"))
	require.NoError(t, err)

	payload, ok := msg.(PayloadMessage)
	require.True(t, ok)
	require.Equal(t, CmdCreateChat, payload.Cmd)
	require.Empty(t, payload.Params)
	require.Equal(t, []byte("New chat name"), payload.Payload)
}

func TestParsePayloadWithSplitSequenceInPayload(t *testing.T) {
	msg, err := Parse([]byte("MSG userB 6||a||b||"))
	require.NoError(t, err)

	payload, ok := msg.(PayloadMessage)
	require.True(t, ok)
	require.Equal(t, []byte("a||b||"), payload.Payload)
}

func TestParseError(t *testing.T) {
	msg, err := Parse([]byte("ERR ClientNotLoggedIn"))
	require.NoError(t, err)

	errMsg, ok := msg.(ErrorMessage)
	require.True(t, ok)
	require.Equal(t, "ClientNotLoggedIn", errMsg.Code)
}

func TestParseService(t *testing.T) {
	msg, err := Parse([]byte("SRV"))
	require.NoError(t, err)

	svc, ok := msg.(ServiceMessage)
	require.True(t, ok)
	require.Equal(t, CmdService, svc.Cmd)
}

func TestParseUnknownCommand(t *testing.T) {
	_, err := Parse([]byte("XXX something"))
	require.ErrorIs(t, err, ErrUnknownCommand)

	_, err = Parse([]byte(""))
	require.ErrorIs(t, err, ErrUnknownCommand)
}

// Malformed frames for a recognized command fail distinctly from
// unknown commands.
func TestParseMalformedPayload(t *testing.T) {
	_, err := Parse([]byte("MSG userB no split sequence"))
	require.ErrorIs(t, err, ErrParse)
	require.NotErrorIs(t, err, ErrUnknownCommand)

	_, err = Parse([]byte("MSG||payload without size"))
	require.ErrorIs(t, err, ErrParse)

	_, err = Parse([]byte("MSG userB notanumber||payload"))
	require.ErrorIs(t, err, ErrParse)
}

func TestRoundTripNormal(t *testing.T) {
	in := NormalMessage{Cmd: CmdChangeStatus, Params: []string{"userB", "ONLINE"}}

	out := decodeWire(t, in.Bytes())
	normal, ok := out.(NormalMessage)
	require.True(t, ok)
	require.Equal(t, in.Cmd, normal.Cmd)
	require.Equal(t, in.Params, normal.Params)
}

func TestRoundTripPayload(t *testing.T) {
	in := PayloadMessage{Cmd: CmdMessage, Params: []string{"userB"}, Payload: []byte("hello there")}

	out := decodeWire(t, in.Bytes())
	payload, ok := out.(PayloadMessage)
	require.True(t, ok)
	require.Equal(t, in.Cmd, payload.Cmd)
	require.Equal(t, in.Params, payload.Params)
	require.Equal(t, in.Payload, payload.Payload)
}

func TestRoundTripError(t *testing.T) {
	in := ErrorMessage{Code: "NoSuchUser"}

	out := decodeWire(t, in.Bytes())
	errMsg, ok := out.(ErrorMessage)
	require.True(t, ok)
	require.Equal(t, in.Code, errMsg.Code)
}

func TestRoundTripService(t *testing.T) {
	in := ServiceMessage{Cmd: CmdService}

	out := decodeWire(t, in.Bytes())
	svc, ok := out.(ServiceMessage)
	require.True(t, ok)
	require.Equal(t, in.Cmd, svc.Cmd)
}

// decodeWire runs encoded bytes back through the frame buffer and the
// parser, the same path a connection would take.
func decodeWire(t *testing.T, wire []byte) Message {
	t.Helper()

	b := NewBuffer(0)
	frames, err := b.Push(wire)
	require.NoError(t, err)
	require.Len(t, frames, 1)

	msg, err := Parse(frames[0])
	require.NoError(t, err)
	return msg
}
