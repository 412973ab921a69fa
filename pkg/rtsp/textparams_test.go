package rtsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseVolume(t *testing.T) {
	v, err := ParseVolume([]byte("volume: -15.000000\r\n"))
	require.NoError(t, err)
	require.Equal(t, -15.0, v.DB)
	require.False(t, v.Muted)
	require.InDelta(t, 0.177828, DBToLinear(v.DB), 1e-4)
}

func TestParseVolumeMuted(t *testing.T) {
	v, err := ParseVolume(EncodeVolume(MuteDB))
	require.NoError(t, err)
	require.True(t, v.Muted)
	require.Equal(t, 0.0, DBToLinear(v.DB))
}

func TestParseVolumeMissing(t *testing.T) {
	_, err := ParseVolume([]byte("progress: 0/1/2\r\n"))
	require.Error(t, err)
}

func TestVolumeRoundTrip(t *testing.T) {
	for _, db := range []float64{-60, -30.5, -1, 0} {
		v, err := ParseVolume(EncodeVolume(db))
		require.NoError(t, err)
		require.InDelta(t, db, v.DB, 1e-6)
	}
}

func TestLinearToDBRoundTrip(t *testing.T) {
	for db := -60.0; db <= 0; db += 1.0 {
		got := LinearToDB(DBToLinear(db))
		require.InDelta(t, db, got, 0.01)
	}
}

func TestDBToLinearMuteBoundary(t *testing.T) {
	require.Equal(t, 0.0, DBToLinear(-144))
	require.Equal(t, 0.0, DBToLinear(-200))
	require.Equal(t, 1.0, DBToLinear(0))
}

func TestLinearToDBZero(t *testing.T) {
	require.Equal(t, MuteDB, LinearToDB(0))
	require.True(t, math.IsInf(LinearToDB(0), 0) == false)
}

func TestParseProgress(t *testing.T) {
	p, err := ParseProgress([]byte("progress: 100/5000/44100\r\n"))
	require.NoError(t, err)
	require.Equal(t, Progress{Start: 100, Current: 5000, End: 44100}, p)
}

func TestProgressRoundTrip(t *testing.T) {
	want := Progress{Start: 1, Current: 2, End: 3}
	got, err := ParseProgress(EncodeProgress(want))
	require.NoError(t, err)
	require.Equal(t, want, got)
}
