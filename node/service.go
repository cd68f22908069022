package node

import (
	"sort"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/orset/comm"
	"github.com/go-pluto/orset/crdt"
	"github.com/go-pluto/orset/storage"
	"github.com/pkg/errors"
)

// Structs

// Broadcaster hands a message to every peer. It must
// not block on the network, it is called while the
// replica state is locked.
type Broadcaster interface {
	Broadcast(msg *comm.Msg)
}

// Store persists replica state transitions.
type Store interface {
	Load() (*storage.State, error)
	SaveReplica(name string) error
	Apply(delta storage.Delta) error
}

// Stats summarizes the state of a replica.
type Stats struct {
	Replica  string
	Elements int
	Tags     int
	Counter  uint64
	Pending  int
	VClock   string
}

// Service defines the interface a replica of the
// set provides to clients and peers.
type Service interface {

	// Add inserts value with a fresh tag and
	// broadcasts the operation.
	Add(value string) error

	// Remove retracts all tags of value visible
	// at this replica and broadcasts the operation.
	// Removing an absent value changes nothing.
	Remove(value string) error

	// Contains reports whether value is present.
	Contains(value string) bool

	// Elements returns all present values, sorted.
	Elements() []string

	// Stats returns counters describing the replica.
	Stats() Stats

	// HandleMsg buffers a downstream operation of a
	// peer and applies all that became ready.
	HandleMsg(msg *comm.Msg) error

	// HandleSync incorporates the full state of a peer.
	HandleSync(state *comm.SyncMsg) error

	// SyncMsg returns the full state of this replica.
	SyncMsg() *comm.SyncMsg
}

type service struct {
	lock        *sync.Mutex
	logger      log.Logger
	name        string
	set         *crdt.ORSet[string]
	ctx         crdt.Context
	buffer      *comm.Buffer
	store       Store
	broadcaster Broadcaster
}

// Functions

// InitService restores the replica called name from
// store, or starts an empty one if the store is fresh.
// Operations are handed to broadcaster for delivery
// to peers.
func InitService(logger log.Logger, name string, peers []string, store Store, broadcaster Broadcaster) (Service, error) {

	state, err := store.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load replica state")
	}

	if (state.Replica != "") && (state.Replica != name) {
		return nil, errors.Errorf("state belongs to replica '%s', not '%s'", state.Replica, name)
	}

	if err := store.SaveReplica(name); err != nil {
		return nil, err
	}

	s := &service{
		lock:        &sync.Mutex{},
		logger:      logger,
		name:        name,
		set:         crdt.RestoreORSet[string](name, state.Counter, state.Elements),
		ctx:         state.Context,
		buffer:      comm.InitBuffer(name, peers),
		store:       store,
		broadcaster: broadcaster,
	}

	if s.ctx == nil {
		s.ctx = make(crdt.Context)
	}

	// The own tags up to the counter have all been
	// minted here, removed or not.
	s.ctx.Observe(crdt.Tag{Replica: name, Counter: s.set.Counter()})

	s.buffer.Restore(state.VClock)

	level.Info(logger).Log(
		"msg", "restored replica state",
		"replica", name,
		"elements", s.set.Size(),
		"counter", s.set.Counter(),
		"vclock", s.buffer.VClock().String(),
	)

	return s, nil
}

// Add inserts value with a fresh tag. The tag's counter
// is durable before the operation leaves this replica,
// so a restart never mints the same tag twice.
func (s *service) Add(value string) error {

	s.lock.Lock()
	defer s.lock.Unlock()

	op := s.set.Add(value)
	tag := op.Tags[0]

	ctx := s.ctx.Copy()
	ctx.Observe(tag)

	vclock := s.buffer.VClock()
	vclock[s.name]++

	err := s.store.Apply(storage.Delta{
		Added:   []crdt.TaggedElement[string]{{Value: value, Tag: tag}},
		Counter: s.set.Counter(),
		Context: ctx,
		VClock:  vclock,
	})
	if err != nil {
		s.set.RemoveEffect(value, op.Tags)
		return errors.Wrapf(err, "failed to persist add of '%s'", value)
	}

	s.ctx.Observe(tag)
	s.broadcast(op)

	return nil
}

// Remove retracts every tag of value observed here.
func (s *service) Remove(value string) error {

	s.lock.Lock()
	defer s.lock.Unlock()

	op := s.set.Remove(value)
	if len(op.Tags) == 0 {
		return nil
	}

	removed := make([]crdt.TaggedElement[string], 0, len(op.Tags))
	for _, tag := range op.Tags {
		removed = append(removed, crdt.TaggedElement[string]{Value: value, Tag: tag})
	}

	vclock := s.buffer.VClock()
	vclock[s.name]++

	err := s.store.Apply(storage.Delta{
		Removed: removed,
		Counter: s.set.Counter(),
		Context: s.ctx,
		VClock:  vclock,
	})
	if err != nil {

		for _, tag := range op.Tags {
			s.set.AddEffect(value, tag)
		}

		return errors.Wrapf(err, "failed to persist remove of '%s'", value)
	}

	s.broadcast(op)

	return nil
}

// broadcast stamps op with the next vector clock
// and hands it to the broadcaster.
func (s *service) broadcast(op *crdt.ORSetOp[string]) {

	s.broadcaster.Broadcast(&comm.Msg{
		Replica: s.name,
		Vclock:  s.buffer.Tick(),
		Payload: op.String(),
	})
}

// Contains reports whether value is present.
func (s *service) Contains(value string) bool {

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.set.Lookup(value)
}

// Elements returns all present values, sorted.
func (s *service) Elements() []string {

	s.lock.Lock()
	defer s.lock.Unlock()

	values := s.set.Elements().ToSlice()
	sort.Strings(values)

	return values
}

// Stats returns counters describing the replica.
func (s *service) Stats() Stats {

	s.lock.Lock()
	defer s.lock.Unlock()

	return Stats{
		Replica:  s.name,
		Elements: s.set.Size(),
		Tags:     s.set.TagCount(),
		Counter:  s.set.Counter(),
		Pending:  s.buffer.Pending(),
		VClock:   s.buffer.VClock().String(),
	}
}

// HandleMsg validates a downstream message, passes it
// through the causal buffer and applies every operation
// that became ready.
func (s *service) HandleMsg(msg *comm.Msg) error {

	if msg.Replica == s.name {
		return errors.Wrap(comm.ErrMalformed, "message claims to originate from this replica")
	}

	if _, err := crdt.ParseOp(msg.Payload); err != nil {
		return errors.Wrap(comm.ErrMalformed, err.Error())
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	ctx, buffer := s.ctx.Copy(), s.buffer.Copy()

	delivered := s.buffer.Enqueue(msg)
	if len(delivered) == 0 {
		return nil
	}

	delta := s.applyMsgs(delivered)
	if err := s.persist(delta); err != nil {

		// The sender retries, the message has to be
		// accepted again then.
		s.rollback(delta, ctx, buffer)
		return err
	}

	return nil
}

// HandleSync merges the full state of a peer, keeping
// removals of both sides, and applies buffered
// operations the merge unblocked.
func (s *service) HandleSync(state *comm.SyncMsg) error {

	if state.Replica == s.name {
		return errors.Wrap(comm.ErrMalformed, "state claims to originate from this replica")
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	ctx, buffer := s.ctx.Copy(), s.buffer.Copy()

	remote := comm.SnapshotFromElements(state.Elements)
	added, removed := s.set.Reconcile(s.ctx, remote, state.Context)

	delta := s.applyMsgs(s.buffer.Join(state.Vclock))
	delta.Added = append(added, delta.Added...)
	delta.Removed = append(removed, delta.Removed...)

	if err := s.persist(delta); err != nil {
		s.rollback(delta, ctx, buffer)
		return err
	}

	return nil
}

// SyncMsg returns the full state of this replica.
func (s *service) SyncMsg() *comm.SyncMsg {

	s.lock.Lock()
	defer s.lock.Unlock()

	return &comm.SyncMsg{
		Replica:  s.name,
		Vclock:   s.buffer.VClock(),
		Context:  s.ctx.Copy(),
		Elements: comm.ElementsFromSnapshot(s.set.Snapshot()),
	}
}

// applyMsgs executes the effects of causally ready
// messages in order and collects what changed.
func (s *service) applyMsgs(msgs []*comm.Msg) storage.Delta {

	var delta storage.Delta

	for _, msg := range msgs {

		op, err := crdt.ParseOp(msg.Payload)
		if err != nil {

			// Only validated messages enter the buffer.
			level.Error(s.logger).Log(
				"msg", "skipping unparsable buffered operation",
				"from", msg.Replica,
				"err", err,
			)

			continue
		}

		switch op.Operation {
		case crdt.OpAdd:

			for _, tag := range op.Tags {

				// A tag observed before and gone now was
				// removed here, it must not come back.
				if s.ctx.Covers(tag) {
					continue
				}

				s.set.AddEffect(op.Value, tag)
				s.ctx.Observe(tag)
				delta.Added = append(delta.Added, crdt.TaggedElement[string]{Value: op.Value, Tag: tag})
			}

		case crdt.OpRmv:

			alive := s.set.Tags(op.Value)
			present := make([]crdt.Tag, 0, len(op.Tags))

			for _, tag := range op.Tags {

				if containsTag(alive, tag) {
					present = append(present, tag)
					delta.Removed = append(delta.Removed, crdt.TaggedElement[string]{Value: op.Value, Tag: tag})
				}
			}

			s.set.RemoveEffect(op.Value, present)
		}
	}

	return delta
}

// persist writes delta together with the current
// counter, context and vector clock.
func (s *service) persist(delta storage.Delta) error {

	delta.Counter = s.set.Counter()
	delta.Context = s.ctx
	delta.VClock = s.buffer.VClock()

	if err := s.store.Apply(delta); err != nil {
		return errors.Wrap(err, "failed to persist replica state")
	}

	return nil
}

// rollback undoes the effects collected in delta and
// puts back context and buffer as they were before.
// The context must never cover a tag the store lacks,
// after a restart that tag would count as removed.
func (s *service) rollback(delta storage.Delta, ctx crdt.Context, buffer *comm.Buffer) {

	// A pair may be added and removed again within one
	// delta but never the other way round, as removed
	// tags are covered by the context. Undo removals first.
	for _, p := range delta.Removed {
		s.set.AddEffect(p.Value, p.Tag)
	}

	for _, p := range delta.Added {
		s.set.RemoveEffect(p.Value, []crdt.Tag{p.Tag})
	}

	s.ctx = ctx
	s.buffer = buffer
}

func containsTag(tags []crdt.Tag, tag crdt.Tag) bool {

	for _, t := range tags {
		if t == tag {
			return true
		}
	}

	return false
}
