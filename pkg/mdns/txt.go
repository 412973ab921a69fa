// Package mdns advertises the AirPlay service over mDNS/DNS-SD (spec.md
// §4.7): a single process-wide `_airplay._tcp.local.` or `_raop._tcp.local.`
// instance, built on github.com/brutella/dnssd.
package mdns

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Status flag bits (spec.md §4.7).
const (
	StatusFlagProblem          = 1 << 0
	StatusFlagNotConfigured    = 1 << 1
	StatusFlagRequiresPassword = 1 << 4
	StatusFlagPasswordSet      = 1 << 5
)

// Feature flag bits that select which pairing modes are offered.
const (
	FeatureLegacyPairing    = 1 << 17
	FeaturePINPairing       = 1 << 26
	FeatureTransientPairing = 1 << 27
	FeatureHomeKit          = 1 << 46
)

// Params describes the fields needed to build a TXT record, per spec.md
// §4.7.
type Params struct {
	DeviceID         string // MAC-like identifier, colon-separated hex
	Features         uint64
	RequiresPassword bool
	PasswordSet      bool
	NotConfigured    bool
	Problem          bool
	Ed25519PublicKey []byte
	Model            string
	SourceVersion    string
	ProtocolVersion  string
	ACL              string
	VV               string
}

// StatusFlags computes the status bitfield from the boolean fields of p.
func (p Params) StatusFlags() int {
	var f int
	if p.Problem {
		f |= StatusFlagProblem
	}
	if p.NotConfigured {
		f |= StatusFlagNotConfigured
	}
	if p.RequiresPassword {
		f |= StatusFlagRequiresPassword
	}
	if p.PasswordSet {
		f |= StatusFlagPasswordSet
	}
	return f
}

// DeterministicPeerID derives the "pi" TXT field: a UUID deterministically
// derived from the device ID, so it's stable across restarts without
// needing to persist it separately.
func DeterministicPeerID(deviceID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(deviceID)).String()
}

// BuildTXT renders p into the TXT record key/value map, including the
// two-hex-half feature field (spec.md §4.7: "features (two hex halves)").
func BuildTXT(p Params) map[string]string {
	txt := map[string]string{
		"deviceid": p.DeviceID,
		"features": featuresHex(p.Features),
		"flags":    fmt.Sprintf("0x%x", p.StatusFlags()),
		"pi":       DeterministicPeerID(p.DeviceID),
		"model":    p.Model,
		"srcvers":  p.SourceVersion,
		"protovers": p.ProtocolVersion,
		"acl":      p.ACL,
		"vv":       p.VV,
	}
	if len(p.Ed25519PublicKey) > 0 {
		txt["pk"] = base64.StdEncoding.EncodeToString(p.Ed25519PublicKey)
	}
	return txt
}

// featuresHex renders a 64-bit feature mask as two hex halves
// ("<low32>,<high32>"), matching the format real AirPlay TXT records use.
func featuresHex(features uint64) string {
	low := uint32(features)
	high := uint32(features >> 32)
	return fmt.Sprintf("0x%X,0x%X", low, high)
}

// ParseFeaturesHex is the inverse of featuresHex, parsing a discovered
// peer's "features" TXT value ("0xLOW,0xHIGH") back into a 64-bit mask. A
// malformed value parses as 0 rather than erroring, since a caller
// interpreting someone else's advertisement should degrade gracefully
// rather than discard the whole device record over one bad field.
func ParseFeaturesHex(v string) uint64 {
	halves := strings.SplitN(v, ",", 2)
	low, _ := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(halves[0]), "0x"), 16, 32)
	var high uint64
	if len(halves) == 2 {
		high, _ = strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(halves[1]), "0x"), 16, 32)
	}
	return low | (high << 32)
}
