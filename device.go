// Package airplay2 wires together the control-plane, pairing, and RTP
// components of pkg/ into the two roles spec.md §1 describes: Receiver
// (advertise, accept streams) and Sender (discover, stream to a device).
// Everything in this root package is orchestration — the protocol logic
// itself lives in the sub-packages it imports.
package airplay2

import (
	"net"

	"github.com/nightcast/airplay2/pkg/mdns"
)

// Feature bit positions spec.md §3 names explicitly; the rest live behind
// mdns.Feature* for the subset mdns.BuildTXT needs.
const (
	FeatureCoreAudio        = 1 << 9
	FeatureSupportsVolume   = 1 << 19
	FeatureTransientPairing = 1 << 27
	FeatureBufferedAudio    = 1 << 38
	FeaturePTP              = 1 << 40
	FeatureHomeKit          = 1 << 46
)

// DeviceRecord is the data model of spec.md §3: a peer's identity, address
// set, and capability bitmask, with the capability-derived booleans kept as
// a view over Features rather than separately mutable state.
type DeviceRecord struct {
	ID        string
	Name      string
	Addresses []net.IP
	Port      int
	Features  uint64

	// RawTXT preserves any TXT key/value this module did not interpret,
	// per spec.md §3 ("the original TXT key/value map for features we did
	// not interpret").
	RawTXT map[string]string
}

// SupportsAirPlay2 reports whether Features advertises any AirPlay 2
// capability bit this module negotiates against (buffered audio or PTP
// timing — either is sufficient evidence the peer speaks the two-phase
// SETUP dialect rather than legacy ANNOUNCE).
func (d DeviceRecord) SupportsAirPlay2() bool {
	return d.Features&(FeatureBufferedAudio|FeaturePTP) != 0
}

// SupportsBufferedAudio reports bit 38.
func (d DeviceRecord) SupportsBufferedAudio() bool {
	return d.Features&FeatureBufferedAudio != 0
}

// SupportsVolume reports bit 19.
func (d DeviceRecord) SupportsVolume() bool {
	return d.Features&FeatureSupportsVolume != 0
}

// SupportsTransientPairing reports bit 27.
func (d DeviceRecord) SupportsTransientPairing() bool {
	return d.Features&FeatureTransientPairing != 0
}

// SupportsHomeKitPairing reports bit 46.
func (d DeviceRecord) SupportsHomeKitPairing() bool {
	return d.Features&FeatureHomeKit != 0
}

// SupportsPersistentPairing reports whether the device's feature bits imply
// Pair-Setup/Pair-Verify rather than transient-only pairing: any device
// that isn't transient-only is assumed persistent, matching the mutually
// exclusive framing of spec.md §3's capability booleans.
func (d DeviceRecord) SupportsPersistentPairing() bool {
	return !d.SupportsTransientPairing()
}

// DiscoveredDevice is what the external mDNS browser collaborator (out of
// scope per spec.md §1) emits per spec.md's "consumed as a library"
// boundary: raw discovery facts, not yet interpreted into a DeviceRecord.
type DiscoveredDevice struct {
	InstanceName string
	Host         string
	Addresses    []net.IP
	Port         int
	TXT          map[string]string
}

// NewDeviceRecord interprets a DiscoveredDevice's TXT record into a
// DeviceRecord, parsing the "features" field's two-hex-half format and
// keeping everything else in RawTXT. A malformed or absent features field
// degrades to a zero bitmask rather than failing discovery outright — an
// unparseable capability flag is not a reason to hide a device a user can
// otherwise see and name.
func NewDeviceRecord(d DiscoveredDevice) DeviceRecord {
	rec := DeviceRecord{
		Name:      d.InstanceName,
		Addresses: d.Addresses,
		Port:      d.Port,
		RawTXT:    make(map[string]string, len(d.TXT)),
	}

	for k, v := range d.TXT {
		switch k {
		case "deviceid":
			rec.ID = v
		case "features":
			rec.Features = mdns.ParseFeaturesHex(v)
		default:
			rec.RawTXT[k] = v
		}
	}

	if rec.ID == "" {
		rec.ID = d.InstanceName
	}
	return rec
}
