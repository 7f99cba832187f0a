// Package socketio implements the client side of Socket.IO v5 over a raw
// Engine.IO v4 WebSocket: just enough to join a namespace and receive
// named events.
package socketio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// EngineType is the first byte of every Engine.IO frame.
type EngineType byte

const (
	EngineOpen    EngineType = '0'
	EngineClose   EngineType = '1'
	EnginePing    EngineType = '2'
	EnginePong    EngineType = '3'
	EngineMessage EngineType = '4'
	EngineUpgrade EngineType = '5'
	EngineNoop    EngineType = '6'
)

// PacketType is the Socket.IO packet type carried in an Engine.IO message.
type PacketType byte

const (
	PacketConnect      PacketType = '0'
	PacketDisconnect   PacketType = '1'
	PacketEvent        PacketType = '2'
	PacketAck          PacketType = '3'
	PacketConnectError PacketType = '4'
	PacketBinaryEvent  PacketType = '5'
	PacketBinaryAck    PacketType = '6'
)

func (t PacketType) String() string {
	switch t {
	case PacketConnect:
		return "CONNECT"
	case PacketDisconnect:
		return "DISCONNECT"
	case PacketEvent:
		return "EVENT"
	case PacketAck:
		return "ACK"
	case PacketConnectError:
		return "CONNECT_ERROR"
	case PacketBinaryEvent:
		return "BINARY_EVENT"
	case PacketBinaryAck:
		return "BINARY_ACK"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrEmptyFrame    = errors.New("socketio: empty frame")
	ErrInvalidPacket = errors.New("socketio: invalid packet")
)

// Handshake is the payload of the Engine.IO open packet.
type Handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// Packet is a decoded Socket.IO packet. ID is -1 when no ack is requested.
type Packet struct {
	Type      PacketType
	Namespace string
	ID        int
	Data      json.RawMessage
}

// SplitFrame separates an Engine.IO frame into its type and payload.
func SplitFrame(frame []byte) (EngineType, []byte, error) {
	if len(frame) == 0 {
		return 0, nil, ErrEmptyFrame
	}
	t := EngineType(frame[0])
	if t < EngineOpen || t > EngineNoop {
		return 0, nil, fmt.Errorf("%w: engine type %q", ErrInvalidPacket, frame[0])
	}
	return t, frame[1:], nil
}

// ParseHandshake decodes the open packet payload.
func ParseHandshake(payload []byte) (*Handshake, error) {
	var h Handshake
	if err := json.Unmarshal(payload, &h); err != nil {
		return nil, fmt.Errorf("%w: open payload: %v", ErrInvalidPacket, err)
	}
	if h.SID == "" {
		return nil, fmt.Errorf("%w: open payload without sid", ErrInvalidPacket)
	}
	return &h, nil
}

// ParsePacket decodes the Socket.IO packet inside an Engine.IO message.
func ParsePacket(payload []byte) (*Packet, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyFrame
	}

	p := &Packet{Type: PacketType(payload[0]), Namespace: "/", ID: -1}
	if p.Type < PacketConnect || p.Type > PacketBinaryAck {
		return nil, fmt.Errorf("%w: packet type %q", ErrInvalidPacket, payload[0])
	}
	rest := payload[1:]

	if p.Type == PacketBinaryEvent || p.Type == PacketBinaryAck {
		// Attachment count, e.g. "51-". Binary attachments are not supported.
		i := bytes.IndexByte(rest, '-')
		if i < 0 {
			return nil, fmt.Errorf("%w: binary packet without attachment count", ErrInvalidPacket)
		}
		rest = rest[i+1:]
	}

	if len(rest) > 0 && rest[0] == '/' {
		i := bytes.IndexByte(rest, ',')
		if i < 0 {
			p.Namespace = string(rest)
			return p, nil
		}
		p.Namespace = string(rest[:i])
		rest = rest[i+1:]
	}

	n := 0
	for n < len(rest) && rest[n] >= '0' && rest[n] <= '9' {
		n++
	}
	if n > 0 {
		id, err := strconv.Atoi(string(rest[:n]))
		if err != nil {
			return nil, fmt.Errorf("%w: ack id: %v", ErrInvalidPacket, err)
		}
		p.ID = id
		rest = rest[n:]
	}

	if len(rest) > 0 {
		if !json.Valid(rest) {
			return nil, fmt.Errorf("%w: payload is not JSON", ErrInvalidPacket)
		}
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// Encode renders p as an Engine.IO message frame.
func (p *Packet) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(EngineMessage))
	buf.WriteByte(byte(p.Type))
	if p.Namespace != "" && p.Namespace != "/" {
		buf.WriteString(p.Namespace)
		buf.WriteByte(',')
	}
	if p.ID >= 0 {
		buf.WriteString(strconv.Itoa(p.ID))
	}
	buf.Write(p.Data)
	return buf.Bytes()
}

// Event returns the event name and arguments of an EVENT packet.
func (p *Packet) Event() (string, []json.RawMessage, error) {
	if p.Type != PacketEvent && p.Type != PacketBinaryEvent {
		return "", nil, fmt.Errorf("%w: %s is not an event", ErrInvalidPacket, p.Type)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(p.Data, &items); err != nil || len(items) == 0 {
		return "", nil, fmt.Errorf("%w: event payload must be a non-empty array", ErrInvalidPacket)
	}

	var name string
	if err := json.Unmarshal(items[0], &name); err != nil {
		return "", nil, fmt.Errorf("%w: event name must be a string", ErrInvalidPacket)
	}
	return name, items[1:], nil
}

// ConnectError returns the message of a CONNECT_ERROR packet.
func (p *Packet) ConnectError() string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(p.Data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return string(p.Data)
}
