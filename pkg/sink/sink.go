// Package sink defines the audio-sink capability the receive pipeline hands
// decoded PCM to once a stream is set up, and ships an in-memory sink for
// tests and for callers that only want to capture the stream rather than
// play it. Concrete platform drivers (CoreAudio, ALSA, CPAL-style backends)
// live outside this module; it only defines the boundary they implement.
package sink

import (
	"sync"

	"github.com/nightcast/airplay2/pkg/aperrors"
)

// Format describes the PCM the pipeline will push to a Sink once opened.
type Format struct {
	Codec         string
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Device describes one enumerated output device.
type Device struct {
	ID   string
	Name string
}

// Sink is the capability set a playback backend exposes: device
// enumeration, opening to a negotiated format, a pull/push audio path
// started with Start, transport controls, and volume.
//
// Implementations must be safe for Start's callback to run concurrently
// with Pause/Resume/SetVolume/GetVolume/Latency calls from another
// goroutine; Stop must be safe to call even if Start was never called.
type Sink interface {
	// EnumerateDevices lists the devices this backend can open.
	EnumerateDevices() ([]Device, error)

	// Open prepares the sink to accept audio in the given format on the
	// named device. An empty deviceID selects the backend's default.
	Open(deviceID string, format Format) error

	// Start begins playback, pulling buffers from write whenever the
	// sink wants more audio. write is invoked from a backend-owned
	// goroutine until Stop is called.
	Start(write func(buf []byte) (n int, err error)) error

	// Pause suspends playback without releasing the device.
	Pause() error

	// Resume resumes playback after Pause.
	Resume() error

	// Stop ends playback and releases the device.
	Stop() error

	// SetVolume sets linear volume in [0.0, 1.0].
	SetVolume(volume float64) error

	// GetVolume returns the current linear volume.
	GetVolume() (float64, error)

	// Latency reports the sink's output latency, used to size the
	// jitter buffer (spec.md §6).
	Latency() (samples int, err error)

	// CurrentFormat returns the format passed to the most recent Open.
	CurrentFormat() Format
}

// errSinkNotOpen is returned by operations that require Open to have
// succeeded first.
var errSinkNotOpen = aperrors.New(aperrors.KindInvalidState, "sink not open")

// Memory is a Sink that writes pulled audio into an in-memory buffer
// instead of a device, for tests and for headless capture use cases.
type Memory struct {
	mu       sync.Mutex
	opened   bool
	started  bool
	paused   bool
	format   Format
	volume   float64
	captured []byte
	stopCh   chan struct{}
	done     chan struct{}
}

// NewMemory returns an unopened Memory sink at full volume.
func NewMemory() *Memory {
	return &Memory{volume: 1.0}
}

// EnumerateDevices implements Sink with a single synthetic device.
func (m *Memory) EnumerateDevices() ([]Device, error) {
	return []Device{{ID: "memory", Name: "In-Memory Capture"}}, nil
}

// Open implements Sink.
func (m *Memory) Open(_ string, format Format) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.format = format
	m.opened = true
	return nil
}

// Start implements Sink, pulling buffers on a dedicated goroutine until
// Stop is called. Paused periods simply skip pulling.
func (m *Memory) Start(write func(buf []byte) (n int, err error)) error {
	m.mu.Lock()
	if !m.opened {
		m.mu.Unlock()
		return errSinkNotOpen
	}
	if m.started {
		m.mu.Unlock()
		return aperrors.New(aperrors.KindInvalidState, "sink already started")
	}
	m.started = true
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	stopCh := m.stopCh
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			select {
			case <-stopCh:
				return
			default:
			}

			m.mu.Lock()
			paused := m.paused
			m.mu.Unlock()
			if paused {
				continue
			}

			n, err := write(buf)
			if err != nil || n == 0 {
				return
			}

			m.mu.Lock()
			m.captured = append(m.captured, buf[:n]...)
			m.mu.Unlock()
		}
	}()

	return nil
}

// Pause implements Sink.
func (m *Memory) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return errSinkNotOpen
	}
	m.paused = true
	return nil
}

// Resume implements Sink.
func (m *Memory) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return errSinkNotOpen
	}
	m.paused = false
	return nil
}

// Stop implements Sink. Safe to call even if Start was never called.
func (m *Memory) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.opened = false
		m.mu.Unlock()
		return nil
	}
	stopCh := m.stopCh
	done := m.done
	m.started = false
	m.opened = false
	m.mu.Unlock()

	close(stopCh)
	<-done
	return nil
}

// SetVolume implements Sink.
func (m *Memory) SetVolume(volume float64) error {
	if volume < 0 || volume > 1 {
		return aperrors.New(aperrors.KindInvalidParameter, "volume out of range")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume = volume
	return nil
}

// GetVolume implements Sink.
func (m *Memory) GetVolume() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume, nil
}

// Latency implements Sink with a fixed, zero-latency answer: there is no
// real device buffering to report.
func (m *Memory) Latency() (int, error) {
	return 0, nil
}

// CurrentFormat implements Sink.
func (m *Memory) CurrentFormat() Format {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.format
}

// Captured returns a copy of the audio written so far.
func (m *Memory) Captured() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.captured...)
}
