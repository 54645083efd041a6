package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGroup(t *testing.T) {
	scope, id, err := ParseGroup("channel:c1")
	require.NoError(t, err)
	assert.Equal(t, ScopeChannel, scope)
	assert.Equal(t, "c1", id)

	assert.Equal(t, "workspace:w1", WorkspaceGroup("w1"))
	assert.Equal(t, "user:u1", UserGroup("u1"))

	for _, bad := range []string{"", "channel", "channel:", "room:1", "user:a:b", "user:a b", ":x"} {
		assert.ErrorIs(t, ValidateGroup(bad), ErrInvalidScope, bad)
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("do_not_disturb")
	require.NoError(t, err)
	assert.Equal(t, StatusDoNotDisturb, st)
	assert.True(t, st.IsOverride())
	assert.False(t, StatusOnline.IsOverride())
	assert.False(t, StatusOffline.IsOverride())

	_, err = ParseStatus("sleeping")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestMaskedHidesInvisible(t *testing.T) {
	msg := "heads down"
	rec := PresenceRecord{UserID: "u1", Status: StatusInvisible, StatusMessage: &msg, Connections: 2}

	masked := rec.Masked()
	assert.Equal(t, StatusOffline, masked.Status)
	assert.Nil(t, masked.StatusMessage)
	assert.Zero(t, masked.Connections)

	busy := PresenceRecord{UserID: "u2", Status: StatusBusy, StatusMessage: &msg}
	assert.Equal(t, busy, busy.Masked())
}

func TestEncodeEvent(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	frame, err := EncodeEvent(TypingIndicator{ChannelID: "c1", UserID: "u1", IsTyping: true}, now)
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(frame, &got))
	assert.Equal(t, EventTypingIndicator, got["type"])
	assert.EqualValues(t, 1700000000000, got["timestamp"])
	payload := got["payload"].(map[string]interface{})
	assert.Equal(t, "u1", payload["userId"])
	assert.Equal(t, true, payload["isTyping"])

	_, err = EncodeEvent(nil, now)
	assert.ErrorIs(t, err, ErrNilPayload)

	var nilPtr *MessageReceived
	_, err = EncodeEvent(nilPtr, now)
	assert.ErrorIs(t, err, ErrNilPayload)
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent(EventUserJoinedChannel, json.RawMessage(`{"channelId":"c1","userId":"u1"}`))
	require.NoError(t, err)
	joined, ok := ev.(*UserJoinedChannel)
	require.True(t, ok)
	assert.Equal(t, "c1", joined.ChannelID)

	ev, err = DecodeEvent(EventPong, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, EventPong, ev.EventName())

	_, err = DecodeEvent("Nope", nil)
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = DecodeEvent(EventMessageDeleted, json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}

func TestDecodeEventRejectsMissingPayload(t *testing.T) {
	for _, payload := range []json.RawMessage{nil, json.RawMessage(``), json.RawMessage(`null`), json.RawMessage(` null `)} {
		ev, err := DecodeEvent(EventMessageReceived, payload)
		assert.ErrorIs(t, err, ErrNilPayload, "payload %q", payload)
		assert.Nil(t, ev)
	}
}

func TestEveryEventNameDecodes(t *testing.T) {
	for name := range eventFactories {
		ev, err := DecodeEvent(name, json.RawMessage(`{}`))
		require.NoError(t, err, name)
		assert.Equal(t, name, ev.EventName())
	}
}

func TestStatusTTL(t *testing.T) {
	ttl, err := StatusTTL(0)
	require.NoError(t, err)
	assert.Zero(t, ttl)

	ttl, err = StatusTTL(90)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, ttl)

	ttl, err = StatusTTL(int64(MaxStatusTTL / time.Second))
	require.NoError(t, err)
	assert.Equal(t, MaxStatusTTL, ttl)

	for _, seconds := range []int64{-1, int64(MaxStatusTTL/time.Second) + 1, 9300000000} {
		_, err := StatusTTL(seconds)
		assert.ErrorIs(t, err, ErrInvalidStatus, "%d", seconds)
	}
}
