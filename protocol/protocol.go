// Package protocol implements the frame format nodes use to talk to each other.
//
// Every frame is a fixed 14-byte header followed by a body of bodyLen bytes.
// The body is a term encoded with the codec named in the header.
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   seq   │ bodyLen │    body ...    │
//	│ gcp  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// A connection starts with one Hello frame naming the dialing node. After that
// Send frames carry {Sender, Receiver, Message} and Control frames carry
// {ReceiverNode, Command}, for example a monitor_p_exit exit reply.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic bytes "gcp" identify the protocol; anything else on the port is rejected early.
const (
	MagicNumber byte = 0x67 // 'g'
	MagicByte2  byte = 0x63 // 'c'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 4 (seq) + 4 (bodyLen)

	// MaxBodyLen caps a single frame so a corrupt header cannot force a huge allocation.
	MaxBodyLen uint32 = 64 << 20
)

type MsgType byte

const (
	MsgTypeHello     MsgType = 0 // First frame on a connection, body is the node name atom
	MsgTypeSend      MsgType = 1 // Ordinary process-to-process message
	MsgTypeControl   MsgType = 2 // Node-addressed distribution command
	MsgTypeHeartbeat MsgType = 3 // Keepalive, no body
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeHello:
		return "hello"
	case MsgTypeSend:
		return "send"
	case MsgTypeControl:
		return "control"
	case MsgTypeHeartbeat:
		return "heartbeat"
	}
	return fmt.Sprintf("msgtype(%d)", byte(t))
}

// Codec type constants, mirrored from the codec package to keep protocol free of terms.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

type Header struct {
	CodecType byte
	MsgType   MsgType
	Seq       uint32 // Per-connection frame counter, for tracing lost frames
	BodyLen   uint32
}

// Encode writes header and body to w in a single Write call.
// Callers sharing w between goroutines must serialize calls.
func Encode(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize, HeaderSize+len(body))

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(body)))

	_, err := w.Write(append(buf, body...))
	return err
}

// Decode reads one complete frame from r and validates its header.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	msgType := MsgType(headerBuf[5])
	if msgType > MsgTypeHeartbeat {
		return nil, nil, fmt.Errorf("unsupported message type: %d", headerBuf[5])
	}

	seq := binary.BigEndian.Uint32(headerBuf[6:10])
	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("frame body too large: %d bytes", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   msgType,
		Seq:       seq,
		BodyLen:   bodyLen,
	}, body, nil
}
