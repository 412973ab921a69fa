package rtsp

import (
	"strings"

	"github.com/nightcast/airplay2/pkg/base"
)

// HandlerFunc handles one parsed request and builds the response. CSeq
// echoing is done by the Router, not by individual handlers.
type HandlerFunc func(req *base.Request) *base.Response

// route matches a method and a URI path suffix; an empty path matches any.
type route struct {
	method  base.Method
	path    string
	handler HandlerFunc
}

// Router dispatches decoded requests to handlers registered by
// (method, path). AirPlay reuses a handful of paths across both RTSP
// (ANNOUNCE/SETUP/RECORD/...) and the HTTP-shaped pairing endpoints
// (/pair-setup, /pair-verify, /info, /command, /feedback), so dispatch is
// on the pair, not on path alone.
type Router struct {
	routes  []route
	notImpl HandlerFunc
}

// NewRouter returns an empty Router. NotImplemented responses (501) are
// returned for any unmatched (method, path) unless a custom default is
// installed with SetDefault.
func NewRouter() *Router {
	return &Router{}
}

// Handle registers fn for method and the given path. An empty path matches
// requests with any URI, which is how OPTIONS ("*") and the RTSP verbs
// (whose URI is the stream URL, not a fixed path) are typically registered.
func (rt *Router) Handle(method base.Method, path string, fn HandlerFunc) {
	rt.routes = append(rt.routes, route{method: method, path: path, handler: fn})
}

// SetDefault overrides the fallback handler invoked when nothing matches.
func (rt *Router) SetDefault(fn HandlerFunc) {
	rt.notImpl = fn
}

// Dispatch finds a handler for req, invokes it, and stamps the CSeq from
// req onto the resulting response as required by the RTSP contract.
func (rt *Router) Dispatch(req *base.Request) *base.Response {
	var resp *base.Response

	for _, r := range rt.routes {
		if r.method != req.Method {
			continue
		}
		if r.path != "" && !pathMatches(r.path, req.URI) {
			continue
		}
		resp = r.handler(req)
		break
	}

	if resp == nil {
		if rt.notImpl != nil {
			resp = rt.notImpl(req)
		} else {
			resp = base.NewResponse(base.StatusNotImplemented)
		}
	}

	if resp.Header == nil {
		resp.Header = base.NewHeader()
	}
	if cseq, ok := req.Header.Get(base.HeaderCSeq); ok {
		resp.Header.Replace(base.HeaderCSeq, cseq)
	}

	return resp
}

func pathMatches(pattern, uri string) bool {
	// strip query/control attributes that RTSP URLs may carry
	if idx := strings.IndexByte(uri, '?'); idx >= 0 {
		uri = uri[:idx]
	}
	return strings.HasSuffix(uri, pattern) || uri == "*" && pattern == "*"
}
