package pomelo

import (
	"maps"
	"math"
	"time"

	"github.com/bytedance/sonic"
)

// handshakeOK is the only code that accepts a handshake.
const handshakeOK = 200

// HandshakeResult is the negotiated connection setup, parsed once from the
// server's handshake reply.
type HandshakeResult struct {
	Code         int
	Dict         map[string]int
	ServerProtos map[string]any
	ClientProtos map[string]any
	Heartbeat    time.Duration // 0 disables heartbeats
	User         map[string]any
}

func (r *HandshakeResult) clone() *HandshakeResult {
	c := *r
	c.Dict = maps.Clone(r.Dict)
	c.ServerProtos = maps.Clone(r.ServerProtos)
	c.ClientProtos = maps.Clone(r.ClientProtos)
	c.User = maps.Clone(r.User)
	return &c
}

type handshakeRequest struct {
	Sys  handshakeRequestSys `json:"sys"`
	User map[string]any      `json:"user,omitempty"`
}

type handshakeRequestSys struct {
	Type    string         `json:"type"`
	Version string         `json:"version"`
	RSA     map[string]any `json:"rsa"`
}

type handshakeReply struct {
	Code *int           `json:"code"`
	Sys  *handshakeSys  `json:"sys"`
	User map[string]any `json:"user"`
}

type handshakeSys struct {
	Dict      map[string]int   `json:"dict"`
	Protos    *handshakeProtos `json:"protos"`
	Heartbeat *int             `json:"heartbeat"`
}

type handshakeProtos struct {
	Server map[string]any `json:"server"`
	Client map[string]any `json:"client"`
}

func encodeHandshakeRequest(opts *options, user map[string]any) ([]byte, error) {
	return sonic.Marshal(handshakeRequest{
		Sys: handshakeRequestSys{
			Type:    opts.clientType,
			Version: opts.clientVersion,
			RSA:     map[string]any{},
		},
		User: user,
	})
}

// parseHandshakeReply validates the server reply. Any shape other than
// {"code":200,"sys":{...}} is a *HandshakeError.
func parseHandshakeReply(body []byte, unit time.Duration) (*HandshakeResult, error) {
	var reply handshakeReply
	if err := sonic.Unmarshal(body, &reply); err != nil {
		return nil, &HandshakeError{Reason: "malformed reply", Err: err}
	}

	if reply.Code == nil {
		return nil, &HandshakeError{Reason: "missing code"}
	}
	if *reply.Code != handshakeOK {
		return nil, &HandshakeError{Code: *reply.Code, Reason: "rejected by server"}
	}
	if reply.Sys == nil {
		return nil, &HandshakeError{Code: *reply.Code, Reason: "missing sys"}
	}

	result := &HandshakeResult{
		Code: *reply.Code,
		Dict: reply.Sys.Dict,
		User: reply.User,
	}

	if protos := reply.Sys.Protos; protos != nil {
		if protos.Server == nil || protos.Client == nil {
			return nil, &HandshakeError{Code: result.Code, Reason: "protos need both server and client tables"}
		}
		result.ServerProtos = protos.Server
		result.ClientProtos = protos.Client
	}

	if hb := reply.Sys.Heartbeat; hb != nil {
		if *hb < 0 {
			return nil, &HandshakeError{Code: result.Code, Reason: "negative heartbeat"}
		}
		if int64(*hb) > math.MaxInt64/int64(unit) {
			return nil, &HandshakeError{Code: result.Code, Reason: "heartbeat out of range"}
		}
		result.Heartbeat = time.Duration(*hb) * unit
	}

	if result.User == nil {
		result.User = map[string]any{}
	}

	return result, nil
}
