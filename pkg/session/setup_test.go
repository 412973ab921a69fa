package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nightcast/airplay2/pkg/plist"
)

func TestPhase1SetupAllocatesEventAndTimingPorts(t *testing.T) {
	body, err := plist.Marshal(plist.Dict{
		"timingProtocol": "PTP",
		"streams": plist.Array{
			plist.Dict{"type": int64(StreamTypeEvent)},
			plist.Dict{"type": int64(StreamTypePTPTiming)},
		},
	})
	require.NoError(t, err)

	req, err := ParsePhase1Request(body)
	require.NoError(t, err)
	require.Equal(t, "PTP", req.TimingProtocol)
	require.ElementsMatch(t, []int{StreamTypeEvent, StreamTypePTPTiming}, req.StreamTypes)

	allocator := NewPortAllocator(7000, 7010)
	respBody, alloc, err := BuildPhase1Response(req, allocator)
	require.NoError(t, err)
	require.NotZero(t, alloc.EventPort)
	require.NotZero(t, alloc.TimingPort)
	require.NotEqual(t, alloc.EventPort, alloc.TimingPort)

	v, err := plist.Unmarshal(respBody)
	require.NoError(t, err)
	dict := v.(plist.Dict)
	streams := dict["streams"].(plist.Array)
	require.Len(t, streams, 2)
}

func TestPhase2SetupNegotiatesAudio(t *testing.T) {
	body, err := plist.Marshal(plist.Dict{
		"streams": plist.Array{
			plist.Dict{
				"type": int64(StreamTypeAudio),
				"ct":   int64(2),
				"sr":   int64(44100),
				"ch":   int64(2),
				"ss":   int64(16),
				"spf":  int64(352),
				"et":   int64(EncryptionChaCha20Poly1305),
			},
		},
	})
	require.NoError(t, err)

	req, err := ParsePhase2Request(body)
	require.NoError(t, err)
	require.EqualValues(t, 44100, req.Audio.SampleRate)
	require.EqualValues(t, EncryptionChaCha20Poly1305, req.Audio.EncryptionType)

	allocator := NewPortAllocator(7100, 7110)
	respBody, alloc, err := BuildPhase2Response(req, allocator)
	require.NoError(t, err)
	require.NotZero(t, alloc.DataPort)
	require.NotZero(t, alloc.ControlPort)

	v, err := plist.Unmarshal(respBody)
	require.NoError(t, err)
	dict := v.(plist.Dict)
	streams := dict["streams"].(plist.Array)
	require.Len(t, streams, 1)
	stream := streams[0].(plist.Dict)
	require.EqualValues(t, defaultAudioLatencySamples, stream["audioLatency"])
}

func TestPhase1SetupRejectsUnknownStreamType(t *testing.T) {
	body, err := plist.Marshal(plist.Dict{
		"streams": plist.Array{
			plist.Dict{"type": int64(99)},
		},
	})
	require.NoError(t, err)

	req, err := ParsePhase1Request(body)
	require.NoError(t, err)

	allocator := NewPortAllocator(7000, 7010)
	_, _, err = BuildPhase1Response(req, allocator)
	require.Error(t, err)
}
