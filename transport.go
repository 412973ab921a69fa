package airplay2

import (
	"encoding/binary"

	"github.com/nightcast/airplay2/pkg/rtsp"
	"github.com/nightcast/airplay2/pkg/session"
)

// maxEncryptedChunk bounds how much plaintext one sealed frame carries:
// every frame after Pair-Verify is [2-byte big-endian ciphertext length][
// ciphertext], chunked so no single control-channel message forces an
// unbounded allocation on the reader.
const maxEncryptedChunk = 1024

// encryptFrames seals plain under sess's encrypt key, chunked into
// maxEncryptedChunk-byte plaintext pieces, each its own length-prefixed
// frame.
func encryptFrames(sess *session.Session, plain []byte) ([]byte, error) {
	if len(plain) == 0 {
		ct, err := sess.Encrypt(plain)
		if err != nil {
			return nil, err
		}
		return appendFrame(nil, ct), nil
	}

	var out []byte
	for off := 0; off < len(plain); off += maxEncryptedChunk {
		end := off + maxEncryptedChunk
		if end > len(plain) {
			end = len(plain)
		}
		ct, err := sess.Encrypt(plain[off:end])
		if err != nil {
			return nil, err
		}
		out = appendFrame(out, ct)
	}
	return out, nil
}

func appendFrame(out, ciphertext []byte) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(ciphertext)))
	out = append(out, lenBuf[:]...)
	return append(out, ciphertext...)
}

// frameBuffer accumulates raw bytes read off the wire once a connection is
// encrypted, draining complete length-prefixed frames into a decoder as
// they become available.
type frameBuffer struct {
	raw []byte
}

// feed appends b to the buffer.
func (f *frameBuffer) feed(b []byte) {
	f.raw = append(f.raw, b...)
}

// drain decrypts every complete frame currently buffered under sess and
// feeds the plaintext into decoder, stopping when less than one full frame
// remains.
func (f *frameBuffer) drain(sess *session.Session, decoder *rtsp.Decoder) error {
	for {
		if len(f.raw) < 2 {
			return nil
		}
		n := int(binary.BigEndian.Uint16(f.raw[:2]))
		if len(f.raw) < 2+n {
			return nil
		}
		ciphertext := f.raw[2 : 2+n]
		f.raw = f.raw[2+n:]

		plain, err := sess.Decrypt(ciphertext)
		if err != nil {
			return err
		}
		if err := decoder.Feed(plain); err != nil {
			return err
		}
	}
}
