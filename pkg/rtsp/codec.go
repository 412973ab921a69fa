// Package rtsp implements the sans-I/O hybrid RTSP/HTTP codec used by the
// AirPlay control plane: incremental parsing of request/response frames,
// independent of any particular transport, plus a small router that
// dispatches parsed requests by (method, path). The Content-Type header
// plays no part in route selection.
package rtsp

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/nightcast/airplay2/pkg/base"
)

const defaultMaxBufferSize = 4 << 20 // 4 MiB, generous for a plist/SDP body

// Decoder accumulates bytes fed to it and yields complete messages as they
// become available. It holds no socket and performs no I/O; callers own the
// transport and push bytes in with Feed.
type Decoder struct {
	buf     []byte
	maxSize int
}

// NewDecoder returns a Decoder bounded to maxSize total buffered bytes.
// maxSize <= 0 means defaultMaxBufferSize.
func NewDecoder(maxSize int) *Decoder {
	if maxSize <= 0 {
		maxSize = defaultMaxBufferSize
	}
	return &Decoder{maxSize: maxSize}
}

// Feed appends b to the internal buffer. It returns a TooLarge Error (and
// leaves the buffer untouched) if that would exceed the configured bound;
// the connection must be closed in that case.
func (d *Decoder) Feed(b []byte) error {
	total := len(d.buf) + len(b)
	if total > d.maxSize {
		return newTooLarge(total)
	}
	d.buf = append(d.buf, b...)
	return nil
}

// Pending reports how many bytes are currently buffered, awaiting a
// complete message.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// frame is one fully-delimited head+body slice, not yet interpreted as a
// request or a response.
type frame struct {
	startLine string
	header    base.Header
	body      []byte
}

// nextFrame splits the next complete message off the front of the buffer.
// It returns ErrIncomplete if the buffer does not yet hold one.
func (d *Decoder) nextFrame() (*frame, error) {
	idx := bytes.Index(d.buf, []byte("\r\n\r\n"))
	if idx < 0 {
		return nil, ErrIncomplete
	}

	headBlock := d.buf[:idx]
	lines := strings.Split(string(headBlock), "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, newErr(KindInvalidStatusLine, "empty start line")
	}

	hdr := base.NewHeader()
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		sep := strings.IndexByte(line, ':')
		if sep < 0 {
			return nil, newErr(KindInvalidHeader, "missing colon in %q", line)
		}
		name := strings.TrimSpace(line[:sep])
		value := strings.TrimSpace(line[sep+1:])
		if name == "" {
			return nil, newErr(KindInvalidHeader, "empty header name")
		}
		hdr.Set(name, value)
	}

	contentLength := 0
	if v, ok := hdr.Get(base.HeaderContentLength); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, newErr(KindInvalidContentLength, "%q", v)
		}
		contentLength = n
	}

	bodyStart := idx + 4
	need := bodyStart + contentLength
	if need > d.maxSize {
		return nil, newTooLarge(need)
	}
	if len(d.buf) < need {
		return nil, ErrIncomplete
	}

	body := append([]byte(nil), d.buf[bodyStart:need]...)
	d.buf = d.buf[need:]

	return &frame{startLine: lines[0], header: hdr, body: body}, nil
}

// DecodeRequest attempts to decode the next buffered request. It returns
// ErrIncomplete (not a failure) if more bytes are needed, and otherwise
// drains as many complete messages as present across repeated calls — the
// caller loops until ErrIncomplete to process back-to-back messages from a
// single Feed.
func (d *Decoder) DecodeRequest() (*base.Request, error) {
	f, err := d.nextFrame()
	if err != nil {
		return nil, err
	}

	fields := strings.SplitN(f.startLine, " ", 3)
	if len(fields) != 3 {
		return nil, newErr(KindInvalidStatusLine, "%q", f.startLine)
	}

	proto, err := parseProtocol(fields[2])
	if err != nil {
		return nil, err
	}

	return &base.Request{
		Method:   base.Method(fields[0]),
		URI:      fields[1],
		Protocol: proto,
		Header:   f.header,
		Body:     f.body,
	}, nil
}

// DecodeResponse attempts to decode the next buffered response, symmetric
// to DecodeRequest.
func (d *Decoder) DecodeResponse() (*base.Response, error) {
	f, err := d.nextFrame()
	if err != nil {
		return nil, err
	}

	fields := strings.SplitN(f.startLine, " ", 3)
	if len(fields) < 2 {
		return nil, newErr(KindInvalidStatusLine, "%q", f.startLine)
	}

	proto, err := parseProtocol(fields[0])
	if err != nil {
		return nil, err
	}

	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, newErr(KindInvalidStatusLine, "bad status code %q", fields[1])
	}

	reason := ""
	if len(fields) == 3 {
		reason = fields[2]
	}

	return &base.Response{
		Protocol: proto,
		Status:   base.StatusCode(code),
		Reason:   reason,
		Header:   f.header,
		Body:     f.body,
	}, nil
}

func parseProtocol(s string) (base.Protocol, error) {
	switch s {
	case string(base.ProtocolRTSP10):
		return base.ProtocolRTSP10, nil
	case string(base.ProtocolHTTP11):
		return base.ProtocolHTTP11, nil
	default:
		return "", newErr(KindInvalidStatusLine, "unsupported protocol %q", s)
	}
}

// EncodeRequest serializes req. The protocol envelope is preserved: an
// ANNOUNCE is written with RTSP/1.0, a POST with HTTP/1.1, matching
// whichever the caller set.
func EncodeRequest(req *base.Request) []byte {
	var buf bytes.Buffer
	buf.WriteString(string(req.Method))
	buf.WriteByte(' ')
	buf.WriteString(req.URI)
	buf.WriteByte(' ')
	buf.WriteString(string(req.Protocol))
	buf.WriteString("\r\n")
	writeHeaderAndBody(&buf, req.Header, req.Body)
	return buf.Bytes()
}

// EncodeResponse serializes resp, inserting Content-Length when a body is
// present.
func EncodeResponse(resp *base.Response) []byte {
	var buf bytes.Buffer
	buf.WriteString(string(resp.Protocol))
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(int(resp.Status)))
	buf.WriteByte(' ')
	buf.WriteString(resp.Reason)
	buf.WriteString("\r\n")
	writeHeaderAndBody(&buf, resp.Header, resp.Body)
	return buf.Bytes()
}

func writeHeaderAndBody(buf *bytes.Buffer, hdr base.Header, body []byte) {
	if hdr == nil {
		hdr = base.NewHeader()
	}
	if len(body) > 0 {
		hdr.Replace(base.HeaderContentLength, strconv.Itoa(len(body)))
	} else {
		hdr.Del(base.HeaderContentLength)
	}

	for _, k := range hdr.SortedKeys() {
		for _, v := range hdr[k] {
			buf.WriteString(k)
			buf.WriteString(": ")
			buf.WriteString(v)
			buf.WriteString("\r\n")
		}
	}
	buf.WriteString("\r\n")
	buf.Write(body)
}
