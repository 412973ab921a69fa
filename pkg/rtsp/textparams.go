package rtsp

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nightcast/airplay2/pkg/aperrors"
)

// ContentTypeTextParameters is the "text/parameters" body used by
// SET_PARAMETER/GET_PARAMETER for volume and playback progress (spec.md §6,
// §4.2's GET_PARAMETER/SET_PARAMETER endpoints).
const ContentTypeTextParameters = "text/parameters"

// MuteDB is the dB value spec.md §6 defines as mute: "-144 = mute".
const MuteDB = -144.0

// Volume is a parsed "volume: <db>\r\n" parameter body.
type Volume struct {
	DB    float64
	Muted bool
}

// ParseVolume parses a "text/parameters" body containing a volume line.
// Lines are "key: value\r\n"; only "volume" is recognized here.
func ParseVolume(body []byte) (Volume, error) {
	params := parseTextParameters(body)
	raw, ok := params["volume"]
	if !ok {
		return Volume{}, aperrors.New(aperrors.KindCodecError, "text/parameters: missing volume")
	}
	db, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Volume{}, aperrors.Wrap(aperrors.KindCodecError, "text/parameters: bad volume", err)
	}
	return Volume{DB: db, Muted: db <= MuteDB}, nil
}

// EncodeVolume renders db as a "text/parameters" SET_PARAMETER body.
func EncodeVolume(db float64) []byte {
	return []byte(fmt.Sprintf("volume: %f\r\n", db))
}

// Progress is a parsed "progress: <start>/<current>/<end>\r\n" parameter
// body, each value an RTP timestamp.
type Progress struct {
	Start, Current, End uint32
}

// ParseProgress parses a "text/parameters" body containing a progress line.
func ParseProgress(body []byte) (Progress, error) {
	params := parseTextParameters(body)
	raw, ok := params["progress"]
	if !ok {
		return Progress{}, aperrors.New(aperrors.KindCodecError, "text/parameters: missing progress")
	}
	fields := strings.Split(raw, "/")
	if len(fields) != 3 {
		return Progress{}, aperrors.New(aperrors.KindCodecError, "text/parameters: malformed progress")
	}
	vals := make([]uint32, 3)
	for i, f := range fields {
		n, err := strconv.ParseUint(strings.TrimSpace(f), 10, 32)
		if err != nil {
			return Progress{}, aperrors.Wrap(aperrors.KindCodecError, "text/parameters: bad progress field", err)
		}
		vals[i] = uint32(n)
	}
	return Progress{Start: vals[0], Current: vals[1], End: vals[2]}, nil
}

// EncodeProgress renders p as a "text/parameters" SET_PARAMETER body.
func EncodeProgress(p Progress) []byte {
	return []byte(fmt.Sprintf("progress: %d/%d/%d\r\n", p.Start, p.Current, p.End))
}

func parseTextParameters(body []byte) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(string(body), "\r\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		sep := strings.IndexByte(line, ':')
		if sep < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:sep]))
		out[key] = strings.TrimSpace(line[sep+1:])
	}
	return out
}

// DBToLinear converts a dB attenuation in [-144, 0] to a linear volume in
// [0, 1], per spec.md §6: "linear = 10^(db/20), clamped to [0,1]". A value
// at or below MuteDB maps to exactly 0.0.
func DBToLinear(db float64) float64 {
	if db <= MuteDB {
		return 0
	}
	v := math.Pow(10, db/20)
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

// LinearToDB is the inverse of DBToLinear: a linear volume of 0 maps to
// MuteDB exactly, matching the boundary spec.md §8 requires.
func LinearToDB(linear float64) float64 {
	if linear <= 0 {
		return MuteDB
	}
	if linear > 1 {
		linear = 1
	}
	return 20 * math.Log10(linear)
}
