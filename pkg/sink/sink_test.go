package sink

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemorySinkCapturesWrites(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Open("", Format{Codec: "alac", SampleRate: 44100, Channels: 2, BitsPerSample: 16}))

	chunks := [][]byte{[]byte("abcd"), []byte("efgh")}
	i := 0
	err := m.Start(func(buf []byte) (int, error) {
		if i >= len(chunks) {
			return 0, io.EOF
		}
		n := copy(buf, chunks[i])
		i++
		return n, nil
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return string(m.Captured()) == "abcdefgh"
	}, time.Second, time.Millisecond)

	require.NoError(t, m.Stop())
}

func TestMemorySinkPauseSkipsPulling(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Open("", Format{SampleRate: 44100, Channels: 2}))

	pulls := 0
	err := m.Start(func(buf []byte) (int, error) {
		pulls++
		n := copy(buf, []byte("x"))
		return n, nil
	})
	require.NoError(t, err)

	require.NoError(t, m.Pause())
	time.Sleep(10 * time.Millisecond)
	paused := pulls

	require.NoError(t, m.Resume())
	require.Eventually(t, func() bool { return pulls > paused }, time.Second, time.Millisecond)

	require.NoError(t, m.Stop())
}

func TestMemorySinkRejectsOperationsBeforeOpen(t *testing.T) {
	m := NewMemory()
	err := m.Start(func([]byte) (int, error) { return 0, io.EOF })
	require.ErrorIs(t, err, errSinkNotOpen)

	require.Error(t, m.Pause())
	require.Error(t, m.Resume())
}

func TestMemorySinkVolumeValidation(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.SetVolume(0.5))
	v, err := m.GetVolume()
	require.NoError(t, err)
	require.Equal(t, 0.5, v)

	require.Error(t, m.SetVolume(1.5))
	require.Error(t, m.SetVolume(-0.1))
}

func TestMemorySinkEnumerateDevices(t *testing.T) {
	m := NewMemory()
	devices, err := m.EnumerateDevices()
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, "memory", devices[0].ID)
}

func TestMemorySinkStopBeforeStartIsSafe(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Open("", Format{}))
	require.NoError(t, m.Stop())
}
