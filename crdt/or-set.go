package crdt

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
)

// Structs

// Tag identifies exactly one add event in the whole
// system. It is minted by the replica that executed the
// add and never reused, because every replica only
// increments its own counter.
type Tag struct {
	Replica string
	Counter uint64
}

// TaggedElement is the atomic unit stored in and
// exchanged between ORSet replicas: a value together
// with the tag of the add that inserted it.
type TaggedElement[T comparable] struct {
	Value T
	Tag   Tag
}

// ORSet conforms to the observed-removed set as
// described by Shapiro, Preguiça, Baquero and
// Zawirski. Values are mapped to the set of tags
// currently alive for them. A value is present exactly
// when it is a key of that map, so presence can never
// diverge from the tagged elements.
type ORSet[T comparable] struct {
	replica  string
	counter  uint64
	elements map[T]mapset.Set[Tag]
}

// Functions

// String returns the tag in its wire form 'replica:counter'.
func (t Tag) String() string {
	return fmt.Sprintf("%s:%d", t.Replica, t.Counter)
}

// Less orders tags by replica name first and by counter second.
func (t Tag) Less(other Tag) bool {

	if t.Replica != other.Replica {
		return t.Replica < other.Replica
	}

	return t.Counter < other.Counter
}

// InitORSet returns an empty initialized new
// observed-removed set owned by replica.
func InitORSet[T comparable](replica string) *ORSet[T] {

	return &ORSet[T]{
		replica:  replica,
		elements: make(map[T]mapset.Set[Tag]),
	}
}

// RestoreORSet rebuilds a replica's set from previously
// persisted state. The counter never drops below the
// highest tag this replica minted that is still stored.
func RestoreORSet[T comparable](replica string, counter uint64, pairs []TaggedElement[T]) *ORSet[T] {

	s := InitORSet[T](replica)

	for _, p := range pairs {

		s.AddEffect(p.Value, p.Tag)

		if (p.Tag.Replica == replica) && (p.Tag.Counter > counter) {
			counter = p.Tag.Counter
		}
	}

	s.counter = counter

	return s
}

// Replica returns the name of the owning replica.
func (s *ORSet[T]) Replica() string {
	return s.replica
}

// Counter returns the value of the last tag this replica minted.
func (s *ORSet[T]) Counter() uint64 {
	return s.counter
}

// Lookup returns true if at least one tag for
// element e is alive in the set and false otherwise.
func (s *ORSet[T]) Lookup(e T) bool {

	_, found := s.elements[e]

	return found
}

// Elements returns the distinct values currently
// present. The returned set is a copy.
func (s *ORSet[T]) Elements() mapset.Set[T] {

	values := mapset.NewThreadUnsafeSet[T]()
	for value := range s.elements {
		values.Add(value)
	}

	return values
}

// Size returns the number of distinct present values.
func (s *ORSet[T]) Size() int {
	return len(s.elements)
}

// TagCount returns the number of tagged elements stored.
func (s *ORSet[T]) TagCount() int {

	count := 0
	for _, tags := range s.elements {
		count += tags.Cardinality()
	}

	return count
}

// Tags returns a copy of the tags alive for element e.
func (s *ORSet[T]) Tags(e T) []Tag {

	tags, found := s.elements[e]
	if !found {
		return nil
	}

	return tags.ToSlice()
}

// AddEffect is the effect part of an update add
// operation. It is executed by all replicas of the
// data set including the source node. It inserts
// given element and tag into the set representation.
// Applying the same pair twice changes nothing.
func (s *ORSet[T]) AddEffect(e T, tag Tag) {

	tags, found := s.elements[e]
	if !found {
		tags = mapset.NewThreadUnsafeSet[Tag]()
		s.elements[e] = tags
	}

	tags.Add(tag)
}

// RemoveEffect deletes exactly the supplied tags of
// element e. Tags not present are ignored. The value
// disappears once its last tag is gone.
func (s *ORSet[T]) RemoveEffect(e T, tags []Tag) {

	alive, found := s.elements[e]
	if !found {
		return
	}

	for _, tag := range tags {
		alive.Remove(tag)
	}

	if alive.Cardinality() == 0 {
		delete(s.elements, e)
	}
}

// Add is only to be executed at the source replica of
// an update. It mints a fresh tag, applies the effect
// locally and returns the operation that other replicas
// need to receive in order to apply the identical pair.
func (s *ORSet[T]) Add(e T) *ORSetOp[T] {

	s.counter++
	tag := Tag{
		Replica: s.replica,
		Counter: s.counter,
	}

	s.AddEffect(e, tag)

	return &ORSetOp[T]{
		Operation: OpAdd,
		Value:     e,
		Tags:      []Tag{tag},
	}
}

// Remove retracts every tag of element e visible at
// this replica right now. The returned operation carries
// exactly those tags, so a remote replica will not erase
// tags it minted concurrently. Removing an absent element
// results in an operation without tags.
func (s *ORSet[T]) Remove(e T) *ORSetOp[T] {

	observed := s.Tags(e)

	s.RemoveEffect(e, observed)

	return &ORSetOp[T]{
		Operation: OpRmv,
		Value:     e,
		Tags:      observed,
	}
}

// Apply executes the effect part of a received
// downstream operation.
func (s *ORSet[T]) Apply(op *ORSetOp[T]) {

	switch op.Operation {
	case OpAdd:
		for _, tag := range op.Tags {
			s.AddEffect(op.Value, tag)
		}
	case OpRmv:
		s.RemoveEffect(op.Value, op.Tags)
	}
}

// Snapshot returns a copy of all tagged elements
// stored at this replica. It is the payload of a
// full state sync.
func (s *ORSet[T]) Snapshot() mapset.Set[TaggedElement[T]] {

	pairs := mapset.NewThreadUnsafeSet[TaggedElement[T]]()

	for value, tags := range s.elements {
		tags.Each(func(tag Tag) bool {
			pairs.Add(TaggedElement[T]{Value: value, Tag: tag})
			return false
		})
	}

	return pairs
}

// Merge folds another state into this one by taking
// the union of both tagged element sets. Retractions
// the caller wants to propagate have to be removed
// from other beforehand, see Reconcile.
func (s *ORSet[T]) Merge(other mapset.Set[TaggedElement[T]]) {

	other.Each(func(p TaggedElement[T]) bool {
		s.AddEffect(p.Value, p.Tag)
		return false
	})
}

// has reports whether exactly this pair is stored.
func (s *ORSet[T]) has(p TaggedElement[T]) bool {

	tags, found := s.elements[p.Value]
	if !found {
		return false
	}

	return tags.Contains(p.Tag)
}
