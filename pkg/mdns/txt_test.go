package mdns

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusFlagsRequiresPasswordBit(t *testing.T) {
	withPassword := Params{RequiresPassword: true}
	require.Equal(t, StatusFlagRequiresPassword, withPassword.StatusFlags())

	without := Params{}
	require.Equal(t, 0, without.StatusFlags())
}

func TestStatusFlagsCombine(t *testing.T) {
	p := Params{RequiresPassword: true, PasswordSet: true, NotConfigured: true}
	flags := p.StatusFlags()
	require.NotZero(t, flags&StatusFlagRequiresPassword)
	require.NotZero(t, flags&StatusFlagPasswordSet)
	require.NotZero(t, flags&StatusFlagNotConfigured)
	require.Zero(t, flags&StatusFlagProblem)
}

func TestDeterministicPeerIDIsStable(t *testing.T) {
	id1 := DeterministicPeerID("AA:BB:CC:DD:EE:FF")
	id2 := DeterministicPeerID("AA:BB:CC:DD:EE:FF")
	require.Equal(t, id1, id2)

	id3 := DeterministicPeerID("11:22:33:44:55:66")
	require.NotEqual(t, id1, id3)
}

func TestBuildTXTIncludesCoreFields(t *testing.T) {
	txt := BuildTXT(Params{
		DeviceID:         "AA:BB:CC:DD:EE:FF",
		Features:         FeaturePINPairing | FeatureHomeKit,
		RequiresPassword: true,
		Model:            "AudioAccessory1,1",
		Ed25519PublicKey: []byte{1, 2, 3, 4},
	})

	require.Equal(t, "AA:BB:CC:DD:EE:FF", txt["deviceid"])
	require.Equal(t, "AudioAccessory1,1", txt["model"])
	require.NotEmpty(t, txt["features"])
	require.NotEmpty(t, txt["pi"])
	require.NotEmpty(t, txt["pk"])
}

func TestFeaturesHexRoundTrip(t *testing.T) {
	for _, features := range []uint64{0, FeaturePINPairing, FeatureHomeKit | FeatureTransientPairing, ^uint64(0)} {
		txt := BuildTXT(Params{Features: features})
		require.Equal(t, features, ParseFeaturesHex(txt["features"]))
	}
}

func TestParseFeaturesHexMalformedDegradesToZero(t *testing.T) {
	require.Equal(t, uint64(0), ParseFeaturesHex("not-a-feature-string"))
}
