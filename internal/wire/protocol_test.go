package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoutesByType(t *testing.T) {
	data, err := json.Marshal(ChatRecv{Type: TypeChatRecv, From: "s1", Body: "hi", At: 1234})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.Equal(t, TypeChatRecv, env.Type)
}

func TestDecodeSessionsPayload(t *testing.T) {
	raw := json.RawMessage(`[
		{"address": "s1", "display_name": "one"},
		{"address": "s2", "closed": true, "group": true}
	]`)
	sessions, err := decodeSessions(raw)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, "s1", sessions[0].Address)
	require.Equal(t, "one", sessions[0].DisplayName)
	require.True(t, sessions[1].Closed)
	require.True(t, sessions[1].Group)
}

func TestDecodeSessionsEmptyPayload(t *testing.T) {
	sessions, err := decodeSessions(nil)
	require.NoError(t, err)
	require.Nil(t, sessions)
}

func TestDecodeSessionsMalformedPayload(t *testing.T) {
	_, err := decodeSessions(json.RawMessage(`{"not": "a list"}`))
	require.Error(t, err)

	// An entry with no address is unusable for routing.
	_, err = decodeSessions(json.RawMessage(`[{"display_name": "nameless"}]`))
	require.Error(t, err)
}

func TestTopicEventOmitsAbsentPayload(t *testing.T) {
	data, err := json.Marshal(TopicEvent{Type: TypeTopicEvent, Topic: "dispatchers"})
	require.NoError(t, err)
	require.NotContains(t, string(data), "sessions")
}

func TestArchiveQueryRoundTrip(t *testing.T) {
	out := ArchiveQuery{Type: TypeArchiveQuery, ID: "q1", Peer: "s1", Limit: 50}
	data, err := json.Marshal(out)
	require.NoError(t, err)

	var in ArchiveQuery
	require.NoError(t, json.Unmarshal(data, &in))
	require.Equal(t, out, in)
}
