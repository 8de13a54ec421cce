package chat

// Outbound frame types.
const (
	FrameStart = "start"
	FrameDelta = "delta"
	FrameEnd   = "end"
	FrameError = "error"
)

// Usage is the token accounting attached to an end frame.
type Usage struct {
	TokensIn  int `json:"tokens_in"`
	TokensOut int `json:"tokens_out"`
}

// Frame is one message sent to the client.
type Frame struct {
	Type      string `json:"type"`
	SessionID int64  `json:"session_id,omitempty"`
	Token     string `json:"token,omitempty"`
	Usage     *Usage `json:"usage,omitempty"`
	Message   string `json:"message,omitempty"`
}

// FrameWriter delivers frames to one connection. It is only ever called from
// the goroutine serving that connection.
type FrameWriter interface {
	WriteFrame(f Frame) error
}

// inboundFrame is the client payload. Pointers tell a missing field apart
// from a zero value.
type inboundFrame struct {
	Message   *string `json:"message"`
	SessionID *int64  `json:"session_id"`
}
