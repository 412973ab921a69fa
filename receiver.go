package airplay2

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nightcast/airplay2/internal/logging"
	"github.com/nightcast/airplay2/pkg/aperrors"
	"github.com/nightcast/airplay2/pkg/cryptoutil"
	"github.com/nightcast/airplay2/pkg/mdns"
	"github.com/nightcast/airplay2/pkg/metrics"
	"github.com/nightcast/airplay2/pkg/pairing"
	"github.com/nightcast/airplay2/pkg/session"
	"github.com/nightcast/airplay2/pkg/sink"
)

// rsaKeyBits is the legacy AirPlay 1 "rsaaeskey" RSA key size every shipped
// accessory uses.
const rsaKeyBits = 2048

// Receiver advertises itself over mDNS and accepts AirPlay connections,
// wiring the pairing, control-plane, and RTP receive components of pkg/ into
// the server role (spec.md §1).
type Receiver struct {
	cfg      receiverConfig
	identity *pairing.Identity
	rsaKey   *rsa.PrivateKey
	deviceID string
	logger   zerolog.Logger

	allocator  *session.PortAllocator
	metricsReg *metrics.Registry
	sinkDev    sink.Sink

	mu          sync.Mutex
	listener    net.Listener
	advertisers []*mdns.Advertiser
	closed      bool
}

// NewReceiver applies opts over the default configuration and constructs a
// Receiver. A fresh Ed25519 identity and RSA key are generated when the
// caller does not supply a persisted one; losing that identity across
// restarts forces every paired controller to re-pair (spec.md §9).
func NewReceiver(opts ...ReceiverOption) (*Receiver, error) {
	cfg := defaultReceiverConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	keyPair := cfg.identity
	if keyPair == nil {
		var err error
		keyPair, err = cryptoutil.GenerateEd25519()
		if err != nil {
			return nil, aperrors.Wrap(aperrors.KindInternal, "generate receiver identity", err)
		}
	}

	deviceID := cfg.deviceID
	if deviceID == "" {
		deviceID = deriveDeviceID(keyPair.Public)
	}

	rsaKey, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, aperrors.Wrap(aperrors.KindInternal, "generate legacy RSA key", err)
	}

	snk := cfg.sink
	if snk == nil {
		snk = sink.NewMemory()
	}

	return &Receiver{
		cfg:        cfg,
		identity:   &pairing.Identity{Identifier: deviceID, KeyPair: keyPair},
		rsaKey:     rsaKey,
		deviceID:   deviceID,
		logger:     logging.Component(cfg.logger, "receiver"),
		allocator:  session.NewPortAllocator(cfg.portRangeLo, cfg.portRangeHi),
		metricsReg: metrics.NewRegistry(),
		sinkDev:    snk,
	}, nil
}

// deriveDeviceID hashes seed into a MAC-like colon-separated hex identifier
// with the locally-administered bit forced on and the multicast bit forced
// off, per spec.md §9's "stable hash of a persistent machine identifier"
// note — seed is this Receiver's own Ed25519 public key, so the identifier
// is stable for the life of the identity without needing separate storage.
func deriveDeviceID(seed []byte) string {
	sum := sha256.Sum256(seed)
	b := make([]byte, 6)
	copy(b, sum[:6])
	b[0] = (b[0] | 0x02) &^ 0x01

	parts := make([]string, len(b))
	for i, o := range b {
		parts[i] = fmt.Sprintf("%02X", o)
	}
	return strings.Join(parts, ":")
}

// DeviceID returns the receiver's stable MAC-like identifier.
func (r *Receiver) DeviceID() string {
	return r.deviceID
}

// Metrics returns the Prometheus registry backing this receiver's counters
// and gauges.
func (r *Receiver) Metrics() *metrics.Registry {
	return r.metricsReg
}

func (r *Receiver) featureBitmask() uint64 {
	features := uint64(FeatureCoreAudio | FeatureSupportsVolume | FeatureBufferedAudio | FeaturePTP)
	if r.cfg.password == "" {
		features |= FeatureTransientPairing
	}
	return features
}

// lookupPeer resolves a previously pair-verified controller's long-term
// Ed25519 public key from the configured peer store. An unknown identifier
// means that controller must be provisioned (via WithPeerStore) before
// Pair-Verify will succeed — this module's Pair-Setup flow authenticates the
// accessory to the controller but does not itself learn or persist the
// controller's key (see DESIGN.md).
func (r *Receiver) lookupPeer(identifier string) (ed25519.PublicKey, bool) {
	raw, ok := r.cfg.store.Get(identifier)
	if !ok {
		return nil, false
	}
	return ed25519.PublicKey(raw), true
}

// ListenAndServe opens addr, begins advertising over mDNS, and accepts
// connections until Close is called.
func (r *Receiver) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return aperrors.Wrap(aperrors.KindNetwork, "listen", err)
	}

	r.mu.Lock()
	r.listener = ln
	r.mu.Unlock()

	if err := r.startAdvertising(ln.Addr().(*net.TCPAddr).Port); err != nil {
		ln.Close()
		return err
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			r.mu.Lock()
			closed := r.closed
			r.mu.Unlock()
			if closed {
				return nil
			}
			return aperrors.Wrap(aperrors.KindNetwork, "accept", err)
		}
		go r.serveConn(conn)
	}
}

func (r *Receiver) startAdvertising(port int) error {
	txt := mdns.BuildTXT(mdns.Params{
		DeviceID:         r.deviceID,
		Features:         r.featureBitmask(),
		RequiresPassword: r.cfg.password != "",
		Ed25519PublicKey: r.identity.KeyPair.Public,
		Model:            r.cfg.model,
		ProtocolVersion:  "1.1",
	})

	adv, err := mdns.NewAdvertiser(mdns.ServiceTypeAirPlay2, r.cfg.name, port)
	if err != nil {
		return err
	}
	if err := adv.Start(txt); err != nil {
		return err
	}
	r.advertisers = append(r.advertisers, adv)

	if r.cfg.advertiseRAOP {
		raopAdv, err := mdns.NewAdvertiser(mdns.ServiceTypeRAOP, r.deviceID+"@"+r.cfg.name, port)
		if err != nil {
			return err
		}
		if err := raopAdv.Start(txt); err != nil {
			return err
		}
		r.advertisers = append(r.advertisers, raopAdv)
	}

	return nil
}

// Close stops advertising and closes the listener. Connections already
// accepted are not forcibly closed; each tears itself down when its client
// disconnects or issues TEARDOWN.
func (r *Receiver) Close() error {
	r.mu.Lock()
	r.closed = true
	ln := r.listener
	advertisers := r.advertisers
	r.mu.Unlock()

	for _, a := range advertisers {
		a.Stop()
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}
