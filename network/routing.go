package network

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
)

const (
	// BucketSize is the maximum number of contacts held by a single
	// k-bucket. This is the constant called "k" in the Kademlia paper.
	BucketSize = 20

	// MaxBucketCount bounds the number of buckets the table can ever
	// hold. The four nearest distance classes can only ever contain 8,
	// 4, 2 and 1 nodes and therefore always fit together in one
	// k-bucket, so the split cursor never advances past KeyBits-4
	// classes and at most 253 buckets exist.
	MaxBucketCount = KeyBits - 3
)

// RoutingTable holds the peers known to this node, organized by XOR
// distance from the node's own identifier. It is not safe for
// concurrent use; the protocol driver owns it exclusively.
type RoutingTable interface {
	// AddContact attempts to record a peer in the table. When the peer
	// is already known it is marked most recently seen and its address
	// is refreshed. When the responsible bucket is full and can no
	// longer split, a TableIsFullError carrying the least recently
	// seen contact of that bucket is returned and the table is left
	// unchanged; the caller decides whether to probe and evict that
	// candidate.
	AddContact(contact Contact) error

	// ClosestContacts returns up to count known peers closest to the
	// given identifier, ordered nearest first.
	ClosestContacts(target NodeID, count int) []Contact

	// Snapshot returns a copy of the table contents for diagnostics.
	Snapshot() TableSnapshot
}

var (
	// ErrorPivotContact is returned when the contact being added carries
	// the table's own pivot identifier. The distance class of the pivot
	// to itself is undefined, so callers must filter their own ID out
	// before it ever reaches the table.
	ErrorPivotContact = errors.New("Contact ID equals the table's pivot ID")
)

// TableIsFullError is returned when the bucket responsible for the
// contact is full and is not allowed to split. It carries the least
// recently seen occupant of that bucket as the candidate a caller may
// probe for liveness and evict.
type TableIsFullError struct {
	Contact           Contact
	EvictionCandidate Contact
}

func (terr *TableIsFullError) Error() string {
	return fmt.Sprintf("Bucket for %s is full. Candidate for eviction = %s",
		terr.Contact.ID, terr.EvictionCandidate.ID)
}

// kBucket is an ordered list of at most BucketSize contacts. The head
// is the least recently seen contact and the tail the most recently
// seen one. At any time exactly one bucket in the table has canSplit
// set; it is the bucket still covering the unsplit tail of the
// distance-class space.
type kBucket struct {
	canSplit bool
	contacts []Contact
}

func createKBucket(canSplit bool) *kBucket {
	return &kBucket{canSplit: canSplit, contacts: make([]Contact, 0, BucketSize)}
}

// indexOf returns the position of the contact with the given ID or -1.
func (bucket *kBucket) indexOf(id NodeID) int {
	for i, contact := range bucket.contacts {
		if contact.ID == id {
			return i
		}
	}
	return -1
}

// KBuckets is the incrementally splitting k-bucket routing table. It
// starts out with a single catch-all bucket covering every distance
// class and carves out one class at a time as buckets fill up, instead
// of allocating all 256 buckets up front. Besides saving allocations
// for the overwhelmingly common case of a sparse network, this keeps
// the nearest (nearly empty) classes condensed in one bucket and makes
// "closest known peers to a key" a single bucket lookup.
type KBuckets struct {
	pivot NodeID

	// buckets is the arena of allocated buckets. Entries are addressed
	// through indices and never move once allocated.
	buckets []*kBucket

	// indices maps every distance class (shared prefix length of an ID
	// with the pivot, 0..KeyBits-1) to the arena slot of the bucket
	// currently responsible for it. Every class always maps to a live
	// bucket and the mapping is rewritten in the same step as a split.
	indices [KeyBits]uint8

	// nextToSplit is the first distance class that does not yet have a
	// dedicated bucket. All classes at or above it map to the single
	// split-eligible bucket.
	nextToSplit int

	// splittable is the arena slot of the sole split-eligible bucket.
	splittable int
}

// CreateKBuckets creates a routing table with a single catch-all
// split-eligible bucket. The pivot is the owning node's own identifier,
// the left operand of every distance computed by the table.
func CreateKBuckets(pivot NodeID) *KBuckets {
	return &KBuckets{
		pivot:   pivot,
		buckets: []*kBucket{createKBucket(true)},
	}
}

// AddContact adds or refreshes a peer as described by RoutingTable.
// Splitting is done iteratively: a full split-eligible bucket is split
// and the insert retried, which in the worst case of maximally skewed
// identifiers repeats once per remaining distance class.
func (tbl *KBuckets) AddContact(contact Contact) error {
	distanceClass := tbl.pivot.XOR(contact.ID).LeadingZeros()
	if distanceClass >= KeyBits {
		return ErrorPivotContact
	}
	for {
		bucket := tbl.buckets[tbl.indices[distanceClass]]

		// Already known: move to the tail and adopt the new address.
		if pos := bucket.indexOf(contact.ID); pos >= 0 {
			copy(bucket.contacts[pos:], bucket.contacts[pos+1:])
			bucket.contacts[len(bucket.contacts)-1] = contact
			return nil
		}

		if len(bucket.contacts) < BucketSize {
			bucket.contacts = append(bucket.contacts, contact)
			return nil
		}

		if !bucket.canSplit {
			return &TableIsFullError{
				Contact:           contact,
				EvictionCandidate: bucket.contacts[0],
			}
		}

		tbl.splitBucket()
	}
}

// splitBucket carves the next distance class out of the split-eligible
// bucket. Two fresh buckets are allocated: a frozen one dedicated to
// the class nextToSplit, and a new split-eligible one covering the
// remaining tail of the class space. The class mapping is rewritten
// before the old occupants are redistributed, so redistribution is a
// plain re-append through the updated mapping. Each occupant lands in
// exactly one of the two halves, so neither half can exceed
// BucketSize.
func (tbl *KBuckets) splitBucket() {
	old := tbl.buckets[tbl.splittable]

	// The new split-eligible bucket takes over the old arena slot, so
	// every class of the unsplit tail keeps mapping to it without a
	// mapping rewrite. The frozen bucket gets a fresh slot.
	tbl.buckets[tbl.splittable] = createKBucket(true)
	tbl.buckets = append(tbl.buckets, createKBucket(false))
	tbl.indices[tbl.nextToSplit] = uint8(len(tbl.buckets) - 1)
	tbl.nextToSplit++

	for _, contact := range old.contacts {
		distanceClass := tbl.pivot.XOR(contact.ID).LeadingZeros()
		bucket := tbl.buckets[tbl.indices[distanceClass]]
		bucket.contacts = append(bucket.contacts, contact)
	}
}

// ClosestContacts gathers up to count contacts ordered by XOR
// distance to the target, starting from the bucket responsible for
// the target's distance class and widening to the rest of the table
// only when that bucket cannot satisfy the request on its own.
func (tbl *KBuckets) ClosestContacts(target NodeID, count int) []Contact {
	if count <= 0 {
		return []Contact{}
	}
	distanceClass := tbl.pivot.XOR(target).LeadingZeros()
	if distanceClass >= KeyBits {
		distanceClass = KeyBits - 1
	}
	home := tbl.indices[distanceClass]

	gathered := make([]Contact, 0, count)
	gathered = append(gathered, tbl.buckets[home].contacts...)
	if len(gathered) < count {
		for slot, bucket := range tbl.buckets {
			if uint8(slot) == home {
				continue
			}
			gathered = append(gathered, bucket.contacts...)
		}
	}

	sort.Slice(gathered, func(i, j int) bool {
		distI := target.XOR(gathered[i].ID)
		distJ := target.XOR(gathered[j].ID)
		return bytes.Compare(distI[:], distJ[:]) < 0
	})
	if len(gathered) > count {
		gathered = gathered[:count]
	}
	return gathered
}

// BucketSnapshot is a point-in-time copy of one bucket's contents.
type BucketSnapshot struct {
	CanSplit bool      `json:"can_split"`
	Contacts []Contact `json:"contacts"`
}

// TableSnapshot is a point-in-time copy of the whole table, used by
// the admin surface and by tests.
type TableSnapshot struct {
	Buckets      []BucketSnapshot `json:"buckets"`
	ContactCount int              `json:"contact_count"`
	NextToSplit  int              `json:"next_to_split"`
}

// Snapshot copies out the table contents for diagnostics.
func (tbl *KBuckets) Snapshot() TableSnapshot {
	snapshot := TableSnapshot{
		Buckets:     make([]BucketSnapshot, 0, len(tbl.buckets)),
		NextToSplit: tbl.nextToSplit,
	}
	for _, bucket := range tbl.buckets {
		contacts := make([]Contact, len(bucket.contacts))
		copy(contacts, bucket.contacts)
		snapshot.Buckets = append(snapshot.Buckets, BucketSnapshot{
			CanSplit: bucket.canSplit,
			Contacts: contacts,
		})
		snapshot.ContactCount += len(contacts)
	}
	return snapshot
}
