// Package base contains the base wire elements of the RTSP/HTTP hybrid
// control plane: methods, status codes, headers and URLs.
package base

// Method is the method of a RTSP or HTTP request.
type Method string

// methods used by the AirPlay control plane.
const (
	Announce          Method = "ANNOUNCE"
	Flush             Method = "FLUSH"
	Get               Method = "GET"
	GetParameter      Method = "GET_PARAMETER"
	Options           Method = "OPTIONS"
	Pause             Method = "PAUSE"
	Play              Method = "PLAY"
	Post              Method = "POST"
	Record            Method = "RECORD"
	Setup             Method = "SETUP"
	SetParameter      Method = "SET_PARAMETER"
	SetRateAnchorTime Method = "SETRATEANCHORTIME"
	Teardown          Method = "TEARDOWN"
)

// Protocol is the transport envelope on the request/status line.
type Protocol string

// protocols accepted on the request/status line. AirPlay speaks both
// interchangeably over the same TCP connection.
const (
	ProtocolRTSP10 Protocol = "RTSP/1.0"
	ProtocolHTTP11 Protocol = "HTTP/1.1"
)
