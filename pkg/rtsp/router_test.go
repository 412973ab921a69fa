package rtsp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nightcast/airplay2/pkg/base"
)

func TestRouterDispatchEchoesCSeq(t *testing.T) {
	rt := NewRouter()
	rt.Handle(base.Options, "*", func(req *base.Request) *base.Response {
		resp := base.NewResponse(base.StatusOK)
		resp.Header.Set(base.HeaderPublic, "OPTIONS, ANNOUNCE, SETUP, RECORD, PAUSE, FLUSH, TEARDOWN, SET_PARAMETER, GET_PARAMETER")
		return resp
	})

	req := &base.Request{Method: base.Options, URI: "*", Header: base.NewHeader()}
	req.Header.Set(base.HeaderCSeq, "42")

	resp := rt.Dispatch(req)
	require.Equal(t, base.StatusOK, resp.Status)
	cseq, ok := resp.Header.Get(base.HeaderCSeq)
	require.True(t, ok)
	require.Equal(t, "42", cseq)
}

func TestRouterUnmatchedReturnsNotImplemented(t *testing.T) {
	rt := NewRouter()
	req := &base.Request{Method: base.Announce, URI: "rtsp://x/y", Header: base.NewHeader()}
	resp := rt.Dispatch(req)
	require.Equal(t, base.StatusNotImplemented, resp.Status)
}

func TestRouterPairSetupPath(t *testing.T) {
	rt := NewRouter()
	called := false
	rt.Handle(base.Post, "/pair-setup", func(req *base.Request) *base.Response {
		called = true
		return base.NewResponse(base.StatusOK)
	})

	req := &base.Request{Method: base.Post, URI: "/pair-setup", Protocol: base.ProtocolHTTP11, Header: base.NewHeader()}
	rt.Dispatch(req)
	require.True(t, called)
}
