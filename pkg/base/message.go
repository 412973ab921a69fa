package base

// Request is a parsed RTSP or HTTP request, as accepted by the hybrid
// control plane: a POST to /pair-setup is represented the same way as an
// ANNOUNCE over RTSP/1.0.
type Request struct {
	Method   Method
	URI      string
	Protocol Protocol
	Header   Header
	Body     []byte
}

// Response is a parsed RTSP or HTTP response.
type Response struct {
	Protocol Protocol
	Status   StatusCode
	Reason   string
	Header   Header
	Body     []byte
}

// CSeq returns the request's CSeq header value, or "" if absent.
func (r *Request) CSeq() (string, bool) {
	return r.Header.Get(HeaderCSeq)
}

// NewResponse builds a Response with status sc, its standard reason phrase,
// and an empty header set. Callers set CSeq and any body before encoding.
func NewResponse(sc StatusCode) *Response {
	return &Response{
		Protocol: ProtocolRTSP10,
		Status:   sc,
		Reason:   sc.Reason(),
		Header:   NewHeader(),
	}
}
