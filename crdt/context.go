package crdt

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// Structs

// Context records for every replica the highest tag
// counter observed so far. Operations of one origin are
// delivered in order, so every tag of that replica up to
// the recorded counter has been observed, whether it is
// still alive or was removed since.
type Context map[string]uint64

// Functions

// Observe records tag as seen.
func (c Context) Observe(tag Tag) {

	if tag.Counter > c[tag.Replica] {
		c[tag.Replica] = tag.Counter
	}
}

// Covers reports whether tag has been observed.
func (c Context) Covers(tag Tag) bool {
	return tag.Counter <= c[tag.Replica]
}

// Join raises every entry to the pair-wise maximum
// of both contexts.
func (c Context) Join(other Context) {

	for replica, counter := range other {

		if counter > c[replica] {
			c[replica] = counter
		}
	}
}

// Copy returns a deep copy of the context.
func (c Context) Copy() Context {

	cp := make(Context, len(c))
	for replica, counter := range c {
		cp[replica] = counter
	}

	return cp
}

// Reconcile folds a remote full state into the set while
// carrying removals in both directions: a local pair the
// remote context covers but the remote state lacks was
// removed remotely and is dropped, and a remote pair the
// local context covers but this set lacks was removed
// locally and is not merged back in. The remaining remote
// pairs are merged and local is joined with remoteCtx.
// It returns the pairs that were inserted and deleted.
func (s *ORSet[T]) Reconcile(local Context, remote mapset.Set[TaggedElement[T]], remoteCtx Context) ([]TaggedElement[T], []TaggedElement[T]) {

	var added, removed []TaggedElement[T]

	// Collect local pairs retracted at the remote side.
	for value, tags := range s.elements {

		tags.Each(func(tag Tag) bool {

			p := TaggedElement[T]{Value: value, Tag: tag}
			if remoteCtx.Covers(tag) && !remote.Contains(p) {
				removed = append(removed, p)
			}

			return false
		})
	}

	for _, p := range removed {
		s.RemoveEffect(p.Value, []Tag{p.Tag})
	}

	// Only merge remote pairs that are new to us and
	// that we did not retract ourselves.
	fresh := mapset.NewThreadUnsafeSet[TaggedElement[T]]()
	remote.Each(func(p TaggedElement[T]) bool {

		if !s.has(p) && !local.Covers(p.Tag) {
			fresh.Add(p)
			added = append(added, p)
		}

		return false
	})

	s.Merge(fresh)
	local.Join(remoteCtx)

	return added, removed
}
