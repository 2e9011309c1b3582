package service

import (
	"log"
	"net"

	"github.com/jevankovich/dht/network"
)

// Directive tells the driver loop whether to keep running after a
// command was handled. It replaces the easy-to-invert bare bool.
type Directive int

const (
	// Continue keeps the driver loop running.
	Continue Directive = iota

	// Stop terminates the driver loop.
	Stop
)

// Command is an external control message consumed exactly once by the
// driver. Commands enter the node from outside the protocol engine:
// the owning process, the bootstrap call or the admin surface.
type Command interface {
	isCommand()
}

// ShutdownCommand asks the driver loop to terminate. Commands queued
// ahead of it are still processed in order.
type ShutdownCommand struct{}

func (ShutdownCommand) isCommand() {}

// PingCommand asks the node to send a liveness probe to the target.
type PingCommand struct {
	Target *net.UDPAddr
}

func (PingCommand) isCommand() {}

// snapshotCommand asks the driver for a copy of the routing table.
// Routing the request through the command channel keeps the table
// owned by the driver alone, with no cross-goroutine locking.
type snapshotCommand struct {
	reply chan<- network.TableSnapshot
}

func (snapshotCommand) isCommand() {}

// AddressedPacket pairs a protocol packet with the peer it came from
// or is destined for.
type AddressedPacket struct {
	Packet network.Packet
	Peer   *net.UDPAddr
}

// ProtocolEngine owns the node's identity and routing table and turns
// inbound packets and external commands into table updates and
// outbound packets. It runs entirely on the driver goroutine; the
// outbound sink queues without ever blocking the engine.
type ProtocolEngine struct {
	selfID       network.NodeID
	contactTable network.RoutingTable
	outbound     chan<- AddressedPacket
}

// CreateProtocolEngine creates the engine for the given identity,
// routing table and outbound packet sink.
func CreateProtocolEngine(selfID network.NodeID, contactTable network.RoutingTable, outbound chan<- AddressedPacket) *ProtocolEngine {
	return &ProtocolEngine{
		selfID:       selfID,
		contactTable: contactTable,
		outbound:     outbound,
	}
}

// HandlePacket processes one inbound packet. The sender is recorded in
// the routing table no matter which payload the packet carries; a full
// non-splittable bucket makes the insert fail and the failure is
// deliberately ignored — no liveness probe of the eviction candidate
// is issued. A ping is answered with a pong echoing its sequence
// number; a pong needs no action beyond the table touch.
func (engine *ProtocolEngine) HandlePacket(packet network.Packet, peer *net.UDPAddr) {
	if packet.SenderID == engine.selfID {
		// The distance of this node to itself is undefined, so a packet
		// claiming our own ID never reaches the table.
		log.Printf("[WARN] Not recording contact claiming this node's own ID from %s", peer)
	} else {
		contact := network.Contact{ID: packet.SenderID, Addr: peer}
		if addErr := engine.contactTable.AddContact(contact); addErr != nil {
			log.Printf("[WARN] Cannot record contact %s: %s", packet.SenderID, addErr.Error())
		}
	}

	switch packet.Payload {
	case network.PayloadPing:
		engine.outbound <- AddressedPacket{
			Packet: network.Packet{
				SenderID: engine.selfID,
				SeqNum:   packet.SeqNum,
				Payload:  network.PayloadPong,
			},
			Peer: peer,
		}
	case network.PayloadPong:
		// Liveness is confirmed by the table touch above.
	}
}

// HandleCommand processes one external command and tells the driver
// whether to keep going.
func (engine *ProtocolEngine) HandleCommand(command Command) Directive {
	switch cmd := command.(type) {
	case ShutdownCommand:
		return Stop
	case PingCommand:
		engine.outbound <- AddressedPacket{
			Packet: network.Packet{
				SenderID: engine.selfID,
				SeqNum:   0,
				Payload:  network.PayloadPing,
			},
			Peer: cmd.Target,
		}
	case snapshotCommand:
		cmd.reply <- engine.contactTable.Snapshot()
	}
	return Continue
}
