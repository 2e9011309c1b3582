package network

import (
	"encoding/binary"
	"errors"
)

// PayloadKind discriminates the protocol messages carried by a packet.
// Ping and Pong carry no body of their own; liveness is the whole
// protocol.
type PayloadKind uint8

const (
	// PayloadPing asks the receiver to confirm it is alive.
	PayloadPing PayloadKind = iota

	// PayloadPong confirms liveness, echoing the ping's sequence number.
	PayloadPong
)

func (kind PayloadKind) String() string {
	switch kind {
	case PayloadPing:
		return "PING"
	case PayloadPong:
		return "PONG"
	default:
		return "UNKNOWN"
	}
}

// Packet is one protocol datagram. Packets are created per message and
// consumed immediately on receipt or transmission; nothing is persisted.
type Packet struct {
	SenderID NodeID
	SeqNum   uint64
	Payload  PayloadKind
}

// PacketSize is the exact size of an encoded packet on the wire:
// the 32-byte sender ID, the 8-byte big-endian sequence number and
// the one-byte payload tag.
const PacketSize = KeyBytes + 8 + 1

// ErrorMalformedPacket is returned when a datagram cannot be decoded
// as a packet. Receivers discard such datagrams silently.
var ErrorMalformedPacket = errors.New("Datagram is not a well-formed packet")

// EncodePacket serializes a packet into its fixed wire layout.
func EncodePacket(packet Packet) []byte {
	data := make([]byte, PacketSize)
	copy(data[:KeyBytes], packet.SenderID[:])
	binary.BigEndian.PutUint64(data[KeyBytes:KeyBytes+8], packet.SeqNum)
	data[KeyBytes+8] = byte(packet.Payload)
	return data
}

// DecodePacket parses a received datagram. Anything other than an
// exactly sized frame with a known payload tag is malformed.
func DecodePacket(data []byte) (Packet, error) {
	if len(data) != PacketSize {
		return Packet{}, ErrorMalformedPacket
	}
	tag := PayloadKind(data[KeyBytes+8])
	if tag != PayloadPing && tag != PayloadPong {
		return Packet{}, ErrorMalformedPacket
	}
	var packet Packet
	copy(packet.SenderID[:], data[:KeyBytes])
	packet.SeqNum = binary.BigEndian.Uint64(data[KeyBytes : KeyBytes+8])
	packet.Payload = tag
	return packet, nil
}
