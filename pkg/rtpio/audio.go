// Package rtpio implements the RTP receive pipeline (spec.md §4.6): audio
// packet decode/decrypt, the control-channel sync and retransmit-request
// framing, the wraparound-aware sequence tracker, the jitter buffer, and the
// peer-clock offset model.
package rtpio

import (
	"github.com/pion/rtp"

	"github.com/nightcast/airplay2/pkg/aperrors"
	"github.com/nightcast/airplay2/pkg/cryptoutil"
)

// AudioPayloadType is the RTP payload type carried on the audio socket.
const AudioPayloadType = 0x60

// Encryption selects how an AudioPacket's payload is protected, mirroring
// the phase-2 SETUP "et" negotiation (pkg/session.Encryption*).
type Encryption int

const (
	EncryptionNone Encryption = iota
	EncryptionAESCBC
	EncryptionChaCha20Poly1305
)

// AudioPacket is a decoded, decrypted audio RTP packet handed to the jitter
// buffer.
type AudioPacket struct {
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	Marker         bool
	Payload        []byte
}

// CipherParams bundles the key material needed to decrypt an audio payload
// under whichever scheme was negotiated.
type CipherParams struct {
	Encryption Encryption
	AESKey     []byte // AES-128-CBC only
	AESIV      []byte // AES-128-CBC only
	ChaChaKey  []byte // ChaCha20-Poly1305 only
}

// DecodeAudioPacket parses an RTP frame from the audio socket and decrypts
// its payload per cipher. A version other than 2 is not a valid AirPlay RTP
// packet and is dropped silently (spec.md §4.6): DecodeAudioPacket returns
// (nil, nil) in that case.
func DecodeAudioPacket(raw []byte, cipher CipherParams, counter uint64) (*AudioPacket, error) {
	// Checked against the raw byte directly, ahead of pion/rtp's own parse:
	// that parser may itself reject a non-2 version outright, but spec.md
	// requires a silent drop rather than a surfaced error in that case.
	if len(raw) < 1 || raw[0]>>6 != 2 {
		return nil, nil
	}

	var pkt rtp.Packet
	if err := pkt.Unmarshal(raw); err != nil {
		return nil, aperrors.Wrap(aperrors.KindRTPError, "audio packet unmarshal", err)
	}

	payload, err := decryptPayload(pkt.Payload, cipher, counter)
	if err != nil {
		return nil, err
	}

	return &AudioPacket{
		SequenceNumber: pkt.SequenceNumber,
		Timestamp:      pkt.Timestamp,
		SSRC:           pkt.SSRC,
		Marker:         pkt.Marker,
		Payload:        payload,
	}, nil
}

// EncodeAudioPacket builds and encrypts an outbound audio RTP frame, the
// transmit-side mirror of DecodeAudioPacket used by the sender role's stream
// loop.
func EncodeAudioPacket(seq uint16, timestamp, ssrc uint32, payload []byte, cipher CipherParams, counter uint64) ([]byte, error) {
	ciphertext, err := encryptPayload(payload, cipher, counter)
	if err != nil {
		return nil, err
	}

	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    AudioPayloadType,
			SequenceNumber: seq,
			Timestamp:      timestamp,
			SSRC:           ssrc,
		},
		Payload: ciphertext,
	}
	raw, err := pkt.Marshal()
	if err != nil {
		return nil, aperrors.Wrap(aperrors.KindRTPError, "audio packet marshal", err)
	}
	return raw, nil
}

func encryptPayload(payload []byte, cipher CipherParams, counter uint64) ([]byte, error) {
	switch cipher.Encryption {
	case EncryptionNone:
		return payload, nil
	case EncryptionAESCBC:
		out, err := cryptoutil.AESCBCEncryptPartial(cipher.AESKey, cipher.AESIV, payload)
		if err != nil {
			return nil, aperrors.Wrap(aperrors.KindRTPError, "audio payload AES-CBC encrypt", err)
		}
		return out, nil
	case EncryptionChaCha20Poly1305:
		out, err := cryptoutil.SealWithCounter(cipher.ChaChaKey, payload, counter)
		if err != nil {
			return nil, aperrors.Wrap(aperrors.KindRTPError, "audio payload ChaCha20-Poly1305 encrypt", err)
		}
		return out, nil
	default:
		return nil, aperrors.New(aperrors.KindInvalidParameter, "unknown audio encryption")
	}
}

func decryptPayload(payload []byte, cipher CipherParams, counter uint64) ([]byte, error) {
	switch cipher.Encryption {
	case EncryptionNone:
		return payload, nil
	case EncryptionAESCBC:
		out, err := cryptoutil.AESCBCDecryptPartial(cipher.AESKey, cipher.AESIV, payload)
		if err != nil {
			return nil, aperrors.Wrap(aperrors.KindRTPError, "audio payload AES-CBC decrypt", err)
		}
		return out, nil
	case EncryptionChaCha20Poly1305:
		out, err := cryptoutil.OpenWithCounter(cipher.ChaChaKey, payload, counter)
		if err != nil {
			return nil, aperrors.Wrap(aperrors.KindRTPError, "audio payload ChaCha20-Poly1305 decrypt", err)
		}
		return out, nil
	default:
		return nil, aperrors.New(aperrors.KindInvalidParameter, "unknown audio encryption")
	}
}
