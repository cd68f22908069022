package comm

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-pluto/orset/crdt"
)

// Structs

// Msg represents a CRDT synchronization message
// between replicas. It consists of the vector clock
// of the originating replica at the time it issued the
// operation and the marshalled operation to apply at the
// receiver's CRDT replica.
type Msg struct {
	Replica string `json:"replica"`
	Vclock  VClock `json:"vclock"`
	Payload string `json:"payload"`
}

// Element is one tagged element on the wire.
type Element struct {
	Value   string `json:"value"`
	Replica string `json:"replica"`
	Counter uint64 `json:"counter"`
}

// SyncMsg carries the full state of a replica: every
// stored tagged element, the causal context of the
// tags observed so far and the vector clock of applied
// operations.
type SyncMsg struct {
	Replica  string       `json:"replica"`
	Vclock   VClock       `json:"vclock"`
	Context  crdt.Context `json:"context"`
	Elements []Element    `json:"elements"`
}

// Conf is the acknowledgement a receiver replies with.
type Conf struct {
	Status uint32 `json:"status"`
}

// Functions

// ElementsFromSnapshot turns a set snapshot into its
// wire representation.
func ElementsFromSnapshot(snapshot mapset.Set[crdt.TaggedElement[string]]) []Element {

	elements := make([]Element, 0, snapshot.Cardinality())

	snapshot.Each(func(p crdt.TaggedElement[string]) bool {

		elements = append(elements, Element{
			Value:   p.Value,
			Replica: p.Tag.Replica,
			Counter: p.Tag.Counter,
		})

		return false
	})

	return elements
}

// SnapshotFromElements turns received wire elements
// back into a snapshot that can be merged.
func SnapshotFromElements(elements []Element) mapset.Set[crdt.TaggedElement[string]] {

	snapshot := mapset.NewThreadUnsafeSet[crdt.TaggedElement[string]]()

	for _, e := range elements {
		snapshot.Add(crdt.TaggedElement[string]{
			Value: e.Value,
			Tag: crdt.Tag{
				Replica: e.Replica,
				Counter: e.Counter,
			},
		})
	}

	return snapshot
}
