package rtsp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nightcast/airplay2/pkg/base"
)

func TestDecoderIncrementalParse(t *testing.T) {
	d := NewDecoder(0)

	require.NoError(t, d.Feed([]byte("RTSP/1.0 200 ")))
	_, err := d.DecodeResponse()
	require.ErrorIs(t, err, ErrIncomplete)

	require.NoError(t, d.Feed([]byte("OK\r\nCSeq: 1\r\n\r\n")))
	resp, err := d.DecodeResponse()
	require.NoError(t, err)
	require.Equal(t, base.StatusOK, resp.Status)
	cseq, ok := resp.Header.Get(base.HeaderCSeq)
	require.True(t, ok)
	require.Equal(t, "1", cseq)
	require.Empty(t, resp.Body)
}

func TestDecoderWholeChunkEqualsIncrementalChunk(t *testing.T) {
	whole := "RTSP/1.0 200 OK\r\nCSeq: 7\r\nContent-Length: 5\r\n\r\nhello" +
		"ANNOUNCE rtsp://x/y RTSP/1.0\r\nCSeq: 8\r\n\r\n"

	oneShot := NewDecoder(0)
	require.NoError(t, oneShot.Feed([]byte(whole)))

	var oneShotMsgs []string
	for {
		resp, err := oneShot.DecodeResponse()
		if err == ErrIncomplete {
			break
		}
		require.NoError(t, err)
		oneShotMsgs = append(oneShotMsgs, string(resp.Body))
		break // first message is a response; remaining buffer holds a request
	}

	chunked := NewDecoder(0)
	var got string
	for i := 0; i < len(whole); i++ {
		require.NoError(t, chunked.Feed([]byte{whole[i]}))
	}
	resp, err := chunked.DecodeResponse()
	require.NoError(t, err)
	got = string(resp.Body)

	require.Equal(t, oneShotMsgs[0], got)

	req, err := chunked.DecodeRequest()
	require.NoError(t, err)
	require.Equal(t, base.Announce, req.Method)
	require.Equal(t, "8", req.Header.Values(base.HeaderCSeq)[0])
}

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	req := &base.Request{
		Method:   base.Setup,
		URI:      "rtsp://10.0.0.2/stream",
		Protocol: base.ProtocolRTSP10,
		Header:   base.NewHeader(),
		Body:     []byte("body-bytes"),
	}
	req.Header.Set(base.HeaderCSeq, "3")

	d := NewDecoder(0)
	require.NoError(t, d.Feed(EncodeRequest(req)))
	out, err := d.DecodeRequest()
	require.NoError(t, err)

	require.Equal(t, req.Method, out.Method)
	require.Equal(t, req.URI, out.URI)
	require.Equal(t, req.Body, out.Body)
	cseq, _ := out.Header.Get(base.HeaderCSeq)
	require.Equal(t, "3", cseq)
}

func TestOptionsPing(t *testing.T) {
	d := NewDecoder(0)
	require.NoError(t, d.Feed([]byte("OPTIONS * RTSP/1.0\r\nCSeq: 1\r\n\r\n")))
	req, err := d.DecodeRequest()
	require.NoError(t, err)
	require.Equal(t, base.Options, req.Method)
	require.Equal(t, "*", req.URI)
}

func TestTooLarge(t *testing.T) {
	d := NewDecoder(16)
	err := d.Feed([]byte("OPTIONS * RTSP/1.0\r\nCSeq: 1\r\n\r\n"))
	var codecErr *Error
	require.ErrorAs(t, err, &codecErr)
	require.Equal(t, KindTooLarge, codecErr.Kind)
}

func TestInvalidContentLength(t *testing.T) {
	d := NewDecoder(0)
	require.NoError(t, d.Feed([]byte("OPTIONS * RTSP/1.0\r\nCSeq: 1\r\nContent-Length: abc\r\n\r\n")))
	_, err := d.DecodeRequest()
	var codecErr *Error
	require.ErrorAs(t, err, &codecErr)
	require.Equal(t, KindInvalidContentLength, codecErr.Kind)
}
