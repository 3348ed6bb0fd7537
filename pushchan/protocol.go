package pushchan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Engine.IO v4 packet types.
const (
	engineOpen    byte = '0'
	engineClose   byte = '1'
	enginePing    byte = '2'
	enginePong    byte = '3'
	engineMessage byte = '4'
	engineUpgrade byte = '5'
	engineNoop    byte = '6'
)

// Socket.IO v5 packet types, carried inside Engine.IO message packets.
const (
	socketConnect      byte = '0'
	socketDisconnect   byte = '1'
	socketEvent        byte = '2'
	socketAck          byte = '3'
	socketConnectError byte = '4'
	socketBinaryEvent  byte = '5'
	socketBinaryAck    byte = '6'
)

var ErrMalformedPacket = errors.New("malformed packet")

// Packet is one decoded websocket text frame.
type Packet struct {
	Engine    byte
	Socket    byte // only set for Engine.IO message packets
	Namespace string
	AckID     int // -1 when absent
	Data      json.RawMessage
}

// Message is a decoded Socket.IO event.
type Message struct {
	Event string
	Args  []json.RawMessage
}

// openPayload is the Engine.IO handshake sent by the server.
type openPayload struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// DecodePacket parses a websocket text frame.
// Format: <engine type>[<socket type>[<namespace>,][<ack id>][<json>]]
func DecodePacket(frame string) (Packet, error) {
	if frame == "" {
		return Packet{}, fmt.Errorf("%w: empty frame", ErrMalformedPacket)
	}

	p := Packet{Engine: frame[0], Namespace: "/", AckID: -1}
	rest := frame[1:]

	switch p.Engine {
	case engineOpen, engineClose, enginePing, enginePong, engineUpgrade, engineNoop:
		if rest != "" {
			p.Data = json.RawMessage(rest)
		}
		return p, nil
	case engineMessage:
	default:
		return Packet{}, fmt.Errorf("%w: unknown engine type %q", ErrMalformedPacket, p.Engine)
	}

	if rest == "" {
		return Packet{}, fmt.Errorf("%w: missing socket type", ErrMalformedPacket)
	}
	p.Socket = rest[0]
	rest = rest[1:]

	switch p.Socket {
	case socketConnect, socketDisconnect, socketEvent, socketAck, socketConnectError:
	case socketBinaryEvent, socketBinaryAck:
		return Packet{}, fmt.Errorf("%w: binary packets are not supported", ErrMalformedPacket)
	default:
		return Packet{}, fmt.Errorf("%w: unknown socket type %q", ErrMalformedPacket, p.Socket)
	}

	if strings.HasPrefix(rest, "/") {
		ns, after, ok := strings.Cut(rest, ",")
		if ok {
			p.Namespace, rest = ns, after
		} else {
			p.Namespace, rest = rest, ""
		}
	}

	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i > 0 {
		id, err := strconv.Atoi(rest[:i])
		if err != nil {
			return Packet{}, fmt.Errorf("%w: ack id: %v", ErrMalformedPacket, err)
		}
		p.AckID = id
		rest = rest[i:]
	}

	if rest != "" {
		if !json.Valid([]byte(rest)) {
			return Packet{}, fmt.Errorf("%w: invalid json payload", ErrMalformedPacket)
		}
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// Message decodes an event packet's name and arguments.
func (p Packet) Message() (Message, error) {
	if p.Engine != engineMessage || p.Socket != socketEvent {
		return Message{}, fmt.Errorf("%w: not an event packet", ErrMalformedPacket)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(p.Data, &raw); err != nil || len(raw) == 0 {
		return Message{}, fmt.Errorf("%w: event payload must be a non-empty array", ErrMalformedPacket)
	}

	var name string
	if err := json.Unmarshal(raw[0], &name); err != nil {
		return Message{}, fmt.Errorf("%w: event name must be a string", ErrMalformedPacket)
	}
	return Message{Event: name, Args: raw[1:]}, nil
}

// EncodeEvent builds the frame for emitting event with args on namespace.
func EncodeEvent(namespace, event string, args ...any) (string, error) {
	data, err := json.Marshal(append([]any{event}, args...))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteByte(engineMessage)
	b.WriteByte(socketEvent)
	writeNamespace(&b, namespace)
	b.Write(data)
	return b.String(), nil
}

func encodeConnect(namespace string) string {
	var b strings.Builder
	b.WriteByte(engineMessage)
	b.WriteByte(socketConnect)
	writeNamespace(&b, namespace)
	return b.String()
}

func encodeDisconnect(namespace string) string {
	var b strings.Builder
	b.WriteByte(engineMessage)
	b.WriteByte(socketDisconnect)
	writeNamespace(&b, namespace)
	return b.String()
}

func writeNamespace(b *strings.Builder, namespace string) {
	if namespace != "" && namespace != "/" {
		b.WriteString(namespace)
		b.WriteByte(',')
	}
}
