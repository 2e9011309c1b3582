package service

// createOutboundQueue returns the two ends of an unbounded FIFO of
// outbound packets. The protocol engine queues on the in side without
// ever blocking, no matter how slow the transmitting side drains;
// pending packets accumulate in a pump goroutine in between. Closing
// the in side flushes whatever is pending and then closes the out
// side, which is how the transmitter learns all producers are gone.
func createOutboundQueue() (chan<- AddressedPacket, <-chan AddressedPacket) {
	in := make(chan AddressedPacket)
	out := make(chan AddressedPacket)
	go func() {
		defer close(out)
		var pending []AddressedPacket
		for {
			if len(pending) == 0 {
				packet, ok := <-in
				if !ok {
					return
				}
				pending = append(pending, packet)
			}
			select {
			case packet, ok := <-in:
				if !ok {
					for _, packet := range pending {
						out <- packet
					}
					return
				}
				pending = append(pending, packet)
			case out <- pending[0]:
				pending = pending[1:]
			}
		}
	}()
	return in, out
}
