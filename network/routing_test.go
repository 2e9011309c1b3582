package network_test

import (
	"net"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/jevankovich/dht/network"
)

// idWithClass builds an identifier whose XOR distance to the all-zero
// pivot has exactly the given number of leading zero bits. The variant
// is folded into the bits after the first set bit so that distinct
// variants give distinct identifiers of the same class.
func idWithClass(class int, variant uint64) network.NodeID {
	var id network.NodeID
	id[class/8] = 1 << (7 - class%8)
	for i := 0; i < 8; i++ {
		b := byte(variant >> (8 * i))
		idx := network.KeyBytes - 1 - i
		if idx > class/8 {
			id[idx] |= b
		} else if idx == class/8 {
			id[idx] |= b & byte((1<<(7-class%8))-1)
		}
	}
	return id
}

func addressWithPort(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}
}

// bucketHolding returns the snapshot bucket containing the given ID.
func bucketHolding(snapshot network.TableSnapshot, id network.NodeID) (network.BucketSnapshot, bool) {
	for _, bucket := range snapshot.Buckets {
		for _, contact := range bucket.Contacts {
			if contact.ID == id {
				return bucket, true
			}
		}
	}
	return network.BucketSnapshot{}, false
}

var _ = Describe("NodeID", func() {
	It("should have the full key width as self-distance leading zeros", func() {
		id := idWithClass(17, 42)
		Expect(id.XOR(id).LeadingZeros()).To(Equal(network.KeyBits))
	})

	It("should measure the shared prefix length through XOR", func() {
		pivot := network.NodeID{}
		for _, class := range []int{0, 1, 7, 8, 100, 255} {
			Expect(pivot.XOR(idWithClass(class, 0)).LeadingZeros()).To(Equal(class))
		}
	})
})

var _ = Describe("KBuckets", func() {
	var (
		pivot network.NodeID
		rtbl  network.RoutingTable
	)

	BeforeEach(func() {
		pivot = network.NodeID{}
		rtbl = network.CreateKBuckets(pivot)
	})

	It("should hold every accepted contact until eviction or split", func() {
		for variant := uint64(0); variant < 50; variant++ {
			contact := network.Contact{ID: idWithClass(int(variant%8), variant), Addr: addressWithPort(9000)}
			if addErr := rtbl.AddContact(contact); addErr == nil {
				_, found := bucketHolding(rtbl.Snapshot(), contact.ID)
				Expect(found).To(BeTrue())
			}
		}
	})

	It("should reject the pivot's own identifier", func() {
		addErr := rtbl.AddContact(network.Contact{ID: pivot, Addr: addressWithPort(9000)})
		Expect(addErr).To(Equal(network.ErrorPivotContact))
	})

	It("should move a re-added contact to the most recently seen position and adopt its new address", func() {
		first := network.Contact{ID: idWithClass(0, 1), Addr: addressWithPort(9001)}
		second := network.Contact{ID: idWithClass(0, 2), Addr: addressWithPort(9002)}
		Expect(rtbl.AddContact(first)).To(BeNil())
		Expect(rtbl.AddContact(second)).To(BeNil())

		refreshed := network.Contact{ID: first.ID, Addr: addressWithPort(9099)}
		Expect(rtbl.AddContact(refreshed)).To(BeNil())

		bucket, found := bucketHolding(rtbl.Snapshot(), first.ID)
		Expect(found).To(BeTrue())
		Expect(bucket.Contacts).To(HaveLen(2))
		Expect(bucket.Contacts[1].ID).To(Equal(first.ID))
		Expect(bucket.Contacts[1].Addr.Port).To(Equal(9099))
		Expect(rtbl.Snapshot().ContactCount).To(Equal(2))
	})

	Context("when the most distant bucket fills up", func() {
		BeforeEach(func() {
			for variant := uint64(0); variant < network.BucketSize; variant++ {
				contact := network.Contact{ID: idWithClass(0, variant), Addr: addressWithPort(9000 + int(variant))}
				Expect(rtbl.AddContact(contact)).To(BeNil())
			}
		})

		It("should split exactly once and then fail with the least recently seen candidate", func() {
			overflow := network.Contact{ID: idWithClass(0, 100), Addr: addressWithPort(9100)}
			addErr := rtbl.AddContact(overflow)

			fullErr, isFullErr := addErr.(*network.TableIsFullError)
			Expect(isFullErr).To(BeTrue())
			Expect(fullErr.EvictionCandidate.ID).To(Equal(idWithClass(0, 0)))

			snapshot := rtbl.Snapshot()
			Expect(snapshot.Buckets).To(HaveLen(2))
			Expect(snapshot.ContactCount).To(Equal(network.BucketSize))
			Expect(snapshot.NextToSplit).To(Equal(1))
		})

		It("should not split again for the next overflowing insert", func() {
			rtbl.AddContact(network.Contact{ID: idWithClass(0, 100), Addr: addressWithPort(9100)})
			before := rtbl.Snapshot()

			addErr := rtbl.AddContact(network.Contact{ID: idWithClass(0, 101), Addr: addressWithPort(9101)})
			Expect(addErr).To(HaveOccurred())

			after := rtbl.Snapshot()
			Expect(after.Buckets).To(HaveLen(len(before.Buckets)))
			Expect(after.ContactCount).To(Equal(before.ContactCount))
		})

		It("should keep accepting contacts of other distance classes", func() {
			near := network.Contact{ID: idWithClass(200, 5), Addr: addressWithPort(9200)}
			Expect(rtbl.AddContact(near)).To(BeNil())
			_, found := bucketHolding(rtbl.Snapshot(), near.ID)
			Expect(found).To(BeTrue())
		})
	})

	Context("when the nearest bucket fills up", func() {
		BeforeEach(func() {
			// Identifiers 1..20 sit in the nearest distance classes and
			// all land in the catch-all bucket.
			for low := uint64(1); low <= network.BucketSize; low++ {
				var id network.NodeID
				id[network.KeyBytes-1] = byte(low)
				Expect(rtbl.AddContact(network.Contact{ID: id, Addr: addressWithPort(9000 + int(low))})).To(BeNil())
			}
		})

		It("should cascade splits without ever exceeding the bucket bound or losing a contact", func() {
			distant := network.Contact{ID: idWithClass(0, 1), Addr: addressWithPort(9100)}
			Expect(rtbl.AddContact(distant)).To(BeNil())

			nearOverflow := network.Contact{ID: idWithClass(251, 5), Addr: addressWithPort(9101)}
			Expect(rtbl.AddContact(nearOverflow)).To(BeNil())

			snapshot := rtbl.Snapshot()
			Expect(len(snapshot.Buckets)).To(BeNumerically("<=", network.MaxBucketCount))
			Expect(snapshot.ContactCount).To(Equal(network.BucketSize + 2))
			for low := uint64(1); low <= network.BucketSize; low++ {
				var id network.NodeID
				id[network.KeyBytes-1] = byte(low)
				_, found := bucketHolding(snapshot, id)
				Expect(found).To(BeTrue())
			}
			for _, bucket := range snapshot.Buckets {
				Expect(len(bucket.Contacts)).To(BeNumerically("<=", network.BucketSize))
			}
		})
	})

	It("should never exceed 253 buckets for any insertion sequence", func() {
		for class := 0; class < network.KeyBits; class++ {
			available := uint64(network.BucketSize + 1)
			if network.KeyBits-1-class < 5 {
				available = 1 << (network.KeyBits - 1 - class)
			}
			for variant := uint64(0); variant < available; variant++ {
				rtbl.AddContact(network.Contact{ID: idWithClass(class, variant), Addr: addressWithPort(9000)})
			}
		}
		snapshot := rtbl.Snapshot()
		Expect(len(snapshot.Buckets)).To(BeNumerically("<=", network.MaxBucketCount))
		Expect(snapshot.NextToSplit).To(BeNumerically("<=", network.MaxBucketCount-1))
		for _, bucket := range snapshot.Buckets {
			Expect(len(bucket.Contacts)).To(BeNumerically("<=", network.BucketSize))
		}
	})

	It("should return the closest known contacts nearest first", func() {
		for _, class := range []int{0, 3, 10, 50} {
			for variant := uint64(0); variant < 3; variant++ {
				Expect(rtbl.AddContact(network.Contact{ID: idWithClass(class, variant), Addr: addressWithPort(9000)})).To(BeNil())
			}
		}
		target := idWithClass(50, 0)
		closest := rtbl.ClosestContacts(target, 5)
		Expect(closest).To(HaveLen(5))
		Expect(closest[0].ID).To(Equal(target))
		for i := 1; i < len(closest); i++ {
			prev := target.XOR(closest[i-1].ID)
			cur := target.XOR(closest[i].ID)
			Expect(prev.LeadingZeros()).To(BeNumerically(">=", cur.LeadingZeros()))
		}
	})
})
