package relay

// FrameKind is the kind of a relay frame.
type FrameKind int

const (
	FrameText FrameKind = iota
	FramePing
	FramePong
	FrameClose
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FramePing:
		return "ping"
	case FramePong:
		return "pong"
	case FrameClose:
		return "close"
	default:
		return "unknown"
	}
}

// Frame is one discrete message on a relay channel. A Close payload, when
// present, is an encoded close code and reason.
type Frame struct {
	Kind    FrameKind
	Payload []byte
}

func TextFrame(text string) Frame {
	return Frame{Kind: FrameText, Payload: []byte(text)}
}

func PingFrame(payload []byte) Frame {
	return Frame{Kind: FramePing, Payload: payload}
}

func PongFrame(payload []byte) Frame {
	return Frame{Kind: FramePong, Payload: payload}
}

func CloseFrame() Frame {
	return Frame{Kind: FrameClose}
}
