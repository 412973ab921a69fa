package airplay2

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/nightcast/airplay2/pkg/cryptoutil"
	"github.com/nightcast/airplay2/pkg/kvstore"
	"github.com/nightcast/airplay2/pkg/sink"
)

// ReceiverOption configures a Receiver, following the functional-option
// constructor pattern the corpus uses for connection-scoped configuration
// (github.com/SilvaMendes/go-rtpengine's ClientOption) rather than a
// config-file format, which has no representative in the corpus for a
// library-shaped component.
type ReceiverOption func(*receiverConfig)

type receiverConfig struct {
	name            string
	password        string
	model           string
	portRangeLo     int
	portRangeHi     int
	logger          zerolog.Logger
	store           kvstore.Store
	identity        *cryptoutil.Ed25519KeyPair
	deviceID        string
	transientOK     bool
	readTimeout     time.Duration
	writeTimeout    time.Duration
	advertiseRAOP   bool
	advertiseAirPl2 bool
	sink            sink.Sink
}

func defaultReceiverConfig() receiverConfig {
	return receiverConfig{
		name:            "AirPlay Receiver",
		model:           "AudioAccessory5,1",
		portRangeLo:     6000,
		portRangeHi:     7000,
		logger:          zerolog.Nop(),
		store:           kvstore.NewMemory(),
		transientOK:     true,
		readTimeout:     10 * time.Second,
		writeTimeout:    10 * time.Second,
		advertiseAirPl2: true,
	}
}

// WithName sets the friendly name advertised over mDNS and returned by the
// /info endpoint.
func WithName(name string) ReceiverOption {
	return func(c *receiverConfig) { c.name = name }
}

// WithPassword requires SRP Pair-Setup with the given PIN/password before a
// controller may stream. An empty password (the default) means the
// StatusFlagRequiresPassword TXT bit is never set.
func WithPassword(password string) ReceiverOption {
	return func(c *receiverConfig) { c.password = password }
}

// WithModel sets the "model" TXT field.
func WithModel(model string) ReceiverOption {
	return func(c *receiverConfig) { c.model = model }
}

// WithUDPPortRange sets the inclusive port range the session port allocator
// draws from for event, timing, data, and control sockets.
func WithUDPPortRange(lo, hi int) ReceiverOption {
	return func(c *receiverConfig) { c.portRangeLo, c.portRangeHi = lo, hi }
}

// WithLogger installs a zerolog.Logger; omitted, a Receiver logs nothing
// (zerolog.Nop()), per spec.md §10's "library code never calls a global
// logger" rule.
func WithLogger(logger zerolog.Logger) ReceiverOption {
	return func(c *receiverConfig) { c.logger = logger }
}

// WithPeerStore installs the persistence backend for paired controllers'
// long-term public keys. Without one, pairing reduces to transient-only
// per spec.md §6.
func WithPeerStore(store kvstore.Store) ReceiverOption {
	return func(c *receiverConfig) { c.store = store }
}

// WithIdentity installs a persisted long-term Ed25519 identity keypair.
// Without one, a Receiver generates a fresh identity at construction —
// losing that keyfile across restarts forces every paired controller to
// re-pair, per spec.md §9.
func WithIdentity(identity *cryptoutil.Ed25519KeyPair) ReceiverOption {
	return func(c *receiverConfig) { c.identity = identity }
}

// WithDeviceID sets the stable MAC-like device identifier used in mDNS TXT
// and /info. Without one, a Receiver derives it from its Ed25519 identity
// public key per spec.md §9's "stable hash of a persistent machine
// identifier" note.
func WithDeviceID(id string) ReceiverOption {
	return func(c *receiverConfig) { c.deviceID = id }
}

// WithSink installs the audio-sink backend each accepted connection opens
// once SETUP negotiates a stream format. Without one, a Receiver captures
// decoded audio into a single in-memory sink.Memory that all of its
// connections share.
func WithSink(s sink.Sink) ReceiverOption {
	return func(c *receiverConfig) { c.sink = s }
}

// WithRAOPAdvertisement also advertises the legacy "_raop._tcp" service
// type alongside "_airplay._tcp", for senders that only browse for
// AirPlay 1.
func WithRAOPAdvertisement() ReceiverOption {
	return func(c *receiverConfig) { c.advertiseRAOP = true }
}

// SenderOption configures a Sender.
type SenderOption func(*senderConfig)

type senderConfig struct {
	logger       zerolog.Logger
	identity     *cryptoutil.Ed25519KeyPair
	store        kvstore.Store
	dialTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func defaultSenderConfig() senderConfig {
	return senderConfig{
		logger:       zerolog.Nop(),
		store:        kvstore.NewMemory(),
		dialTimeout:  5 * time.Second,
		readTimeout:  10 * time.Second,
		writeTimeout: 10 * time.Second,
	}
}

// WithSenderLogger installs a zerolog.Logger on a Sender.
func WithSenderLogger(logger zerolog.Logger) SenderOption {
	return func(c *senderConfig) { c.logger = logger }
}

// WithSenderIdentity installs a persisted long-term Ed25519 identity
// keypair for the controller role.
func WithSenderIdentity(identity *cryptoutil.Ed25519KeyPair) SenderOption {
	return func(c *senderConfig) { c.identity = identity }
}

// WithSenderPeerStore installs the store used to remember paired
// receivers' long-term public keys across restarts.
func WithSenderPeerStore(store kvstore.Store) SenderOption {
	return func(c *senderConfig) { c.store = store }
}

// WithDialTimeout bounds the initial TCP connect per spec.md §5's
// "Timeouts bound every blocking operation".
func WithDialTimeout(d time.Duration) SenderOption {
	return func(c *senderConfig) { c.dialTimeout = d }
}
