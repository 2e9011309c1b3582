package service

import (
	"errors"
	"log"
	"net"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jevankovich/dht/config"
	"github.com/jevankovich/dht/network"
)

const (
	// inboundChannelCapacity bounds the number of decoded packets that
	// can sit between the receiver and the driver. When the driver
	// falls behind, the receiver blocks on this channel, which in turn
	// throttles the socket reads. A burst of datagrams therefore costs
	// at most this many packets of memory instead of growing without
	// bound.
	inboundChannelCapacity = 8

	// commandChannelCapacity buffers external commands. Best-effort
	// producers (bootstrap, admin surface) drop commands instead of
	// blocking when the buffer is full.
	commandChannelCapacity = 64
)

// Node is a running DHT node: one UDP endpoint, one protocol engine
// and the three activities connecting them. The transmitter drains the
// outbound queue onto the socket, the receiver decodes datagrams into
// a bounded channel, and the driver owns the protocol engine and
// consumes commands and inbound packets one event at a time. The
// activities share no mutable state; everything moves through
// channels.
type Node struct {
	identity  network.NodeID
	transport *network.Transport
	commands  chan Command

	group           *errgroup.Group
	driverDone      chan struct{}
	transmitterDone chan struct{}
	done            chan struct{}

	adminListener net.Listener

	shutdownOnce sync.Once
	shutdownErr  error
}

// StartNode binds the UDP socket, spawns the three activities and, if
// configured, brings up the admin surface. The returned node is fully
// operational; the caller typically follows up with Bootstrap and
// eventually Shutdown.
func StartNode(cfg *config.NodeConfiguration) (*Node, error) {
	identity, err := network.GenerateNodeID()
	if err != nil {
		return nil, err
	}
	transport, err := network.CreateTransport(cfg.BindAddress)
	if err != nil {
		return nil, err
	}

	outboundIn, outboundOut := createOutboundQueue()
	engine := CreateProtocolEngine(identity, network.CreateKBuckets(identity), outboundIn)

	node := &Node{
		identity:        identity,
		transport:       transport,
		commands:        make(chan Command, commandChannelCapacity),
		group:           &errgroup.Group{},
		driverDone:      make(chan struct{}),
		transmitterDone: make(chan struct{}),
		done:            make(chan struct{}),
	}

	inbound := make(chan AddressedPacket, inboundChannelCapacity)
	node.group.Go(func() error { return node.runDriver(engine, inbound, outboundIn) })
	node.group.Go(func() error { return node.runTransmitter(outboundOut) })
	node.group.Go(func() error { return node.runReceiver(inbound) })

	if cfg.AdminAddress != "" {
		if adminErr := node.startAdminServer(cfg.AdminAddress); adminErr != nil {
			node.Shutdown()
			return nil, adminErr
		}
	}

	log.Printf("Node %s listening at %s", identity, node.LocalAddr())
	return node, nil
}

// runDriver is the single-threaded event loop owning the protocol
// engine. It waits on the command channel and the inbound packet
// channel at the same time and handles exactly one event per wake-up.
// Go's select picks ready cases pseudo-randomly, so neither source can
// starve the other under sustained traffic. On Stop it closes the
// outbound queue, which lets the transmitter flush and terminate.
func (node *Node) runDriver(engine *ProtocolEngine, inbound <-chan AddressedPacket, outbound chan<- AddressedPacket) error {
	defer close(node.driverDone)
	for {
		select {
		case command := <-node.commands:
			if engine.HandleCommand(command) == Stop {
				close(outbound)
				return nil
			}
		case in := <-inbound:
			engine.HandlePacket(in.Packet, in.Peer)
		}
	}
}

// runTransmitter drains the outbound queue onto the socket, one
// datagram per queued packet. A transport failure aborts the activity
// and surfaces through Shutdown. The loop ends when the queue is
// closed and fully drained.
func (node *Node) runTransmitter(outbound <-chan AddressedPacket) error {
	defer close(node.transmitterDone)
	for out := range outbound {
		if sendErr := node.transport.Send(network.EncodePacket(out.Packet), out.Peer); sendErr != nil {
			log.Printf("[ERROR] Transmitter aborting: %s", sendErr.Error())
			return sendErr
		}
		log.Printf("Sent %s seq=%d to %s", out.Packet.Payload, out.Packet.SeqNum, out.Peer)
	}
	return nil
}

// runReceiver reads datagrams into one reusable maximum-size buffer,
// decodes them and forwards well-formed packets to the driver through
// the bounded inbound channel. Malformed datagrams are discarded
// silently. The activity terminates when the socket is closed during
// shutdown, or when the driver is gone by the time a packet is ready
// to forward.
func (node *Node) runReceiver(inbound chan<- AddressedPacket) error {
	buf := make([]byte, network.MaxDatagramSize)
	for {
		n, peer, recvErr := node.transport.Receive(buf)
		if recvErr != nil {
			if errors.Is(recvErr, net.ErrClosed) {
				return nil
			}
			log.Printf("[ERROR] Receiver aborting: %s", recvErr.Error())
			return recvErr
		}
		packet, decodeErr := network.DecodePacket(buf[:n])
		if decodeErr != nil {
			continue
		}
		log.Printf("Received %s seq=%d from %s", packet.Payload, packet.SeqNum, peer)
		select {
		case inbound <- AddressedPacket{Packet: packet, Peer: peer}:
		case <-node.done:
			return nil
		}
	}
}

// Bootstrap resolves each peer address and queues one ping command per
// peer. A resolution failure fails the whole call; a full command
// buffer silently drops the affected ping, since bootstrap is
// best-effort anyway.
func (node *Node) Bootstrap(peers []string) error {
	for _, peer := range peers {
		addr, resolveErr := net.ResolveUDPAddr("udp", peer)
		if resolveErr != nil {
			return resolveErr
		}
		node.enqueueCommand(PingCommand{Target: addr})
	}
	return nil
}

// enqueueCommand queues a command without blocking. It reports false
// when the buffer is full or nobody is draining it anymore.
func (node *Node) enqueueCommand(command Command) bool {
	select {
	case node.commands <- command:
		return true
	default:
		return false
	}
}

// Shutdown stops the node and blocks until all three activities have
// terminated. The shutdown command is queued behind whatever commands
// are already pending, so those are still processed in order. Once the
// driver has stopped and the transmitter has flushed the outbound
// queue, the socket is closed to unblock the receiver, and the first
// transport error observed by any activity (if any) is returned.
// Shutdown is idempotent.
func (node *Node) Shutdown() error {
	node.shutdownOnce.Do(func() {
		node.commands <- ShutdownCommand{}
		<-node.driverDone
		<-node.transmitterDone
		close(node.done)
		node.transport.Close()
		if node.adminListener != nil {
			node.adminListener.Close()
		}
		node.shutdownErr = node.group.Wait()
		log.Printf("Node %s stopped", node.identity)
	})
	return node.shutdownErr
}

// Identity returns this node's own identifier.
func (node *Node) Identity() network.NodeID {
	return node.identity
}

// LocalAddr reports the resolved UDP address the node is bound to.
func (node *Node) LocalAddr() *net.UDPAddr {
	return node.transport.LocalAddr()
}

// TableSnapshot asks the driver for a copy of the routing table. It
// reports false when the node is already shutting down and the driver
// can no longer answer.
func (node *Node) TableSnapshot() (network.TableSnapshot, bool) {
	reply := make(chan network.TableSnapshot, 1)
	if !node.enqueueCommand(snapshotCommand{reply: reply}) {
		return network.TableSnapshot{}, false
	}
	select {
	case snapshot := <-reply:
		return snapshot, true
	case <-node.driverDone:
		return network.TableSnapshot{}, false
	}
}

// startAdminServer brings up the REST diagnostics surface. It is
// served on its own listener so a failure to bind does not affect the
// protocol socket.
func (node *Node) startAdminServer(adminAddress string) error {
	listener, listenErr := net.Listen("tcp", adminAddress)
	if listenErr != nil {
		return listenErr
	}
	node.adminListener = listener
	log.Printf("Starting admin server at %s", listener.Addr())
	go func() {
		if serveErr := http.Serve(listener, CreateAdminRouter(node)); serveErr != nil && !errors.Is(serveErr, net.ErrClosed) {
			log.Printf("[ERROR] Admin server stopped: %s", serveErr.Error())
		}
	}()
	return nil
}
