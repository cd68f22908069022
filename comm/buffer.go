package comm

// Structs

// Buffer holds the vector clock of applied operations
// of one replica together with received messages that
// still wait for causally preceding ones. Like package
// crdt it does not synchronize access by itself.
type Buffer struct {
	name    string
	vclock  VClock
	pending []*Msg
}

// Functions

// InitBuffer returns a buffer for replica name with
// all vector clock entries of name and nodes set to 0.
func InitBuffer(name string, nodes []string) *Buffer {

	buf := &Buffer{
		name:   name,
		vclock: make(VClock),
	}

	// Initially set vector clock entries to 0.
	for _, node := range nodes {
		buf.vclock[node] = 0
	}

	// Including the entry of this node.
	buf.vclock[name] = 0

	return buf
}

// Restore raises the buffer's vector clock to
// previously persisted values.
func (buf *Buffer) Restore(vclock VClock) {
	buf.vclock.Join(vclock)
}

// VClock returns a copy of the current vector clock.
func (buf *Buffer) VClock() VClock {
	return buf.vclock.Copy()
}

// Copy returns an independent copy of the buffer,
// pending messages are shared but not the slice.
func (buf *Buffer) Copy() *Buffer {

	cp := &Buffer{
		name:    buf.name,
		vclock:  buf.vclock.Copy(),
		pending: make([]*Msg, len(buf.pending)),
	}
	copy(cp.pending, buf.pending)

	return cp
}

// Pending returns the number of messages waiting
// for causally preceding ones.
func (buf *Buffer) Pending() int {
	return len(buf.pending)
}

// Tick increments this replica's own entry for a
// locally issued operation and returns the vector
// clock to stamp the outgoing message with.
func (buf *Buffer) Tick() VClock {

	buf.vclock[buf.name]++

	return buf.vclock.Copy()
}

// Enqueue takes in a received message and returns all
// messages that became deliverable through it, in an
// order respecting causality. The vector clock already
// accounts for the returned messages, so the caller has
// to apply them before touching the buffer again.
// Messages that were applied before are dropped.
func (buf *Buffer) Enqueue(msg *Msg) []*Msg {

	if buf.applied(msg) {
		return nil
	}

	buf.pending = append(buf.pending, msg)

	return buf.deliverable()
}

// Join merges in the vector clock of a full state the
// replica just incorporated. Buffered messages covered
// by it are dropped and the ones that became deliverable
// are returned.
func (buf *Buffer) Join(vclock VClock) []*Msg {

	buf.vclock.Join(vclock)

	return buf.deliverable()
}

// applied reports whether the message's effects are
// already part of this replica's state.
func (buf *Buffer) applied(msg *Msg) bool {
	return msg.Vclock[msg.Replica] <= buf.vclock[msg.Replica]
}

// ready checks if this message is the next expected one
// from its sender and if everything the sender had seen
// has been applied here as well.
func (buf *Buffer) ready(msg *Msg) bool {

	if msg.Vclock[msg.Replica] != (buf.vclock[msg.Replica] + 1) {
		return false
	}

	for node, value := range msg.Vclock {

		if (node != msg.Replica) && (value > buf.vclock[node]) {
			return false
		}
	}

	return true
}

// deliverable repeatedly scans pending messages and
// pulls out every message that can be applied now.
func (buf *Buffer) deliverable() []*Msg {

	var out []*Msg

	for progress := true; progress; {

		progress = false
		remaining := buf.pending[:0]

		for _, msg := range buf.pending {

			switch {
			case buf.applied(msg):
				// Duplicate or covered by a full sync.
			case buf.ready(msg):
				buf.vclock[msg.Replica] = msg.Vclock[msg.Replica]
				out = append(out, msg)
				progress = true
			default:
				remaining = append(remaining, msg)
			}
		}

		// Clear references beyond the kept messages.
		for i := len(remaining); i < len(buf.pending); i++ {
			buf.pending[i] = nil
		}
		buf.pending = remaining
	}

	return out
}
