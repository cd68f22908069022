package node_test

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/go-pluto/orset/comm"
	"github.com/go-pluto/orset/node"
	"github.com/go-pluto/orset/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Structs

// cluster connects replicas through in-memory
// inboxes instead of the network.
type cluster struct {
	t        *testing.T
	dir      string
	names    []string
	services map[string]node.Service
	stores   map[string]*flakyStore
	inboxes  map[string][]*comm.Msg
}

// outbox hands broadcasts of one replica to the
// inboxes of all others.
type outbox struct {
	name    string
	cluster *cluster
}

type failingStore struct {
	applies int
}

// flakyStore fails the next fail writes instead of
// handing them to the wrapped store.
type flakyStore struct {
	*storage.Store
	fail int
}

// Functions

func (o *outbox) Broadcast(msg *comm.Msg) {

	for _, name := range o.cluster.names {

		if name != o.name {
			o.cluster.inboxes[name] = append(o.cluster.inboxes[name], msg)
		}
	}
}

func (f *failingStore) Load() (*storage.State, error) {
	return &storage.State{}, nil
}

func (f *failingStore) SaveReplica(name string) error {
	return nil
}

func (f *failingStore) Apply(delta storage.Delta) error {
	f.applies++
	return errors.New("disk full")
}

func (f *flakyStore) Apply(delta storage.Delta) error {

	if f.fail > 0 {
		f.fail--
		return errors.New("disk hiccup")
	}

	return f.Store.Apply(delta)
}

func newCluster(t *testing.T, names ...string) *cluster {

	c := &cluster{
		t:        t,
		dir:      t.TempDir(),
		names:    names,
		services: make(map[string]node.Service),
		stores:   make(map[string]*flakyStore),
		inboxes:  make(map[string][]*comm.Msg),
	}

	for _, name := range names {
		c.start(name)
	}

	t.Cleanup(func() {
		for _, store := range c.stores {
			store.Close()
		}
	})

	return c
}

func (c *cluster) peers(name string) []string {

	peers := make([]string, 0, len(c.names)-1)
	for _, other := range c.names {
		if other != name {
			peers = append(peers, other)
		}
	}

	return peers
}

// start opens the store of replica name and starts
// its service, restoring previous state if present.
func (c *cluster) start(name string) {

	db, err := storage.Open(filepath.Join(c.dir, name+".db"))
	require.Nil(c.t, err)

	store := &flakyStore{Store: db}

	svc, err := node.InitService(log.NewNopLogger(), name, c.peers(name), store, &outbox{name: name, cluster: c})
	require.Nil(c.t, err)

	c.stores[name] = store
	c.services[name] = svc
}

// restart simulates a crash of replica name.
func (c *cluster) restart(name string) {

	require.Nil(c.t, c.stores[name].Close())
	c.start(name)
}

// deliver hands the i-th message of the inbox of
// replica name to it and removes it from the inbox.
func (c *cluster) deliver(name string, i int) {

	msg := c.inboxes[name][i]
	c.inboxes[name] = append(c.inboxes[name][:i], c.inboxes[name][(i+1):]...)

	require.Nil(c.t, c.services[name].HandleMsg(msg))
}

// deliverAll empties all inboxes in order.
func (c *cluster) deliverAll() {

	for _, name := range c.names {

		for len(c.inboxes[name]) > 0 {
			c.deliver(name, 0)
		}
	}
}

// drop loses all messages queued for replica name.
func (c *cluster) drop(name string) {
	c.inboxes[name] = nil
}

// sync pushes the full state of from to to.
func (c *cluster) sync(from string, to string) {
	require.Nil(c.t, c.services[to].HandleSync(c.services[from].SyncMsg()))
}

// TestAddRemove checks the local operations of a
// single replica.
func TestAddRemove(t *testing.T) {

	c := newCluster(t, "A", "B")
	a := c.services["A"]

	require.Nil(t, a.Add("pear"))
	require.Nil(t, a.Add("apple"))
	require.Nil(t, a.Add("apple"))

	assert.True(t, a.Contains("apple"))
	assert.False(t, a.Contains("plum"))
	assert.Equal(t, []string{"apple", "pear"}, a.Elements())

	stats := a.Stats()
	assert.Equal(t, "A", stats.Replica)
	assert.Equal(t, 2, stats.Elements)
	assert.Equal(t, 3, stats.Tags)
	assert.Equal(t, uint64(3), stats.Counter)

	require.Nil(t, a.Remove("apple"))
	assert.False(t, a.Contains("apple"))
	assert.Equal(t, []string{"pear"}, a.Elements())
	assert.Len(t, c.inboxes["B"], 4)

	// Removing an absent value broadcasts nothing.
	require.Nil(t, a.Remove("plum"))
	assert.Len(t, c.inboxes["B"], 4)

	c.deliverAll()
	assert.Equal(t, []string{"pear"}, c.services["B"].Elements())
}

// TestAddWins checks that a concurrent add survives
// a remove of the same value.
func TestAddWins(t *testing.T) {

	c := newCluster(t, "A", "B")
	a, b := c.services["A"], c.services["B"]

	require.Nil(t, a.Add("apple"))
	c.deliverAll()
	require.True(t, b.Contains("apple"))

	// Concurrently, B removes the apple it has seen
	// while A adds it once more.
	require.Nil(t, b.Remove("apple"))
	require.Nil(t, a.Add("apple"))
	c.deliverAll()

	assert.True(t, a.Contains("apple"))
	assert.True(t, b.Contains("apple"))
	assert.Equal(t, a.Elements(), b.Elements())
	assert.Equal(t, 1, a.Stats().Tags)
	assert.Equal(t, 1, b.Stats().Tags)
}

// TestCausalDelivery checks that a remove is not applied
// before the add it retracts.
func TestCausalDelivery(t *testing.T) {

	c := newCluster(t, "A", "B", "C")
	a, b, cc := c.services["A"], c.services["B"], c.services["C"]

	require.Nil(t, a.Add("apple"))

	// B learns about the apple and removes it.
	c.deliver("B", 0)
	require.Nil(t, b.Remove("apple"))

	// C receives the remove first.
	require.Len(t, c.inboxes["C"], 2)
	c.deliver("C", 1)
	assert.False(t, cc.Contains("apple"))
	assert.Equal(t, 1, cc.Stats().Pending)

	// Once the add arrives both get applied in order.
	c.deliver("C", 0)
	assert.False(t, cc.Contains("apple"))
	assert.Equal(t, 0, cc.Stats().Pending)

	c.deliverAll()
	assert.Empty(t, a.Elements())
	assert.Empty(t, b.Elements())
	assert.Empty(t, cc.Elements())
}

// TestDuplicateDelivery checks that a message delivered
// twice takes effect once.
func TestDuplicateDelivery(t *testing.T) {

	c := newCluster(t, "A", "B")
	a, b := c.services["A"], c.services["B"]

	require.Nil(t, a.Add("apple"))
	add := c.inboxes["B"][0]
	c.deliverAll()

	require.Nil(t, b.Remove("apple"))
	require.Nil(t, b.HandleMsg(add))

	assert.False(t, b.Contains("apple"))
}

// TestSyncRepairsLostMessages checks that a full sync
// catches up a replica that missed operations and
// unblocks its causal buffer.
func TestSyncRepairsLostMessages(t *testing.T) {

	c := newCluster(t, "A", "B")
	a, b := c.services["A"], c.services["B"]

	require.Nil(t, a.Add("apple"))
	require.Nil(t, a.Add("pear"))
	require.Nil(t, a.Remove("apple"))
	c.drop("B")

	require.Nil(t, a.Add("plum"))

	// The add of the plum waits for the lost messages.
	c.deliverAll()
	assert.Empty(t, b.Elements())
	assert.Equal(t, 1, b.Stats().Pending)

	c.sync("A", "B")
	assert.Equal(t, []string{"pear", "plum"}, b.Elements())
	assert.Equal(t, 0, b.Stats().Pending)

	// Operations after the sync flow as usual.
	require.Nil(t, a.Remove("pear"))
	c.deliverAll()
	assert.Equal(t, []string{"plum"}, b.Elements())
}

// TestSyncKeepsRemovals checks that a full sync neither
// resurrects removed values nor undoes concurrent adds.
func TestSyncKeepsRemovals(t *testing.T) {

	c := newCluster(t, "A", "B")
	a, b := c.services["A"], c.services["B"]

	require.Nil(t, a.Add("apple"))
	c.deliverAll()

	// B removes the apple, the message gets lost.
	require.Nil(t, b.Remove("apple"))
	c.drop("A")

	// A's state still holds the apple, B must not
	// take it back.
	c.sync("A", "B")
	assert.False(t, b.Contains("apple"))

	// The other way round A learns about the remove.
	c.sync("B", "A")
	assert.False(t, a.Contains("apple"))

	// A concurrent add is kept by a sync.
	require.Nil(t, a.Add("apple"))
	c.drop("B")
	c.sync("B", "A")
	assert.True(t, a.Contains("apple"))

	c.sync("A", "B")
	assert.True(t, b.Contains("apple"))
	assert.Equal(t, a.Elements(), b.Elements())
}

// TestRestart checks that a restarted replica resumes
// with its elements and never reuses a tag.
func TestRestart(t *testing.T) {

	c := newCluster(t, "A", "B")

	require.Nil(t, c.services["A"].Add("apple"))
	require.Nil(t, c.services["A"].Add("pear"))
	require.Nil(t, c.services["A"].Remove("pear"))
	c.deliverAll()

	require.Nil(t, c.services["B"].Add("plum"))
	c.deliverAll()

	c.restart("A")
	a := c.services["A"]

	assert.Equal(t, []string{"apple", "plum"}, a.Elements())
	assert.Equal(t, uint64(2), a.Stats().Counter)

	// The next add mints a tag with a fresh counter.
	require.Nil(t, a.Add("pear"))
	assert.Equal(t, uint64(3), a.Stats().Counter)

	// B accepts it as the next operation of A.
	c.deliverAll()
	assert.True(t, c.services["B"].Contains("pear"))
	assert.Equal(t, 0, c.services["B"].Stats().Pending)

	// A replica's database cannot be taken over.
	_, err := node.InitService(log.NewNopLogger(), "B", []string{"A"}, c.stores["A"], &outbox{name: "B", cluster: c})
	assert.NotNil(t, err)
}

// TestHandleMsgMalformed checks that messages that can
// never be applied are reported as such.
func TestHandleMsgMalformed(t *testing.T) {

	c := newCluster(t, "A", "B")
	a := c.services["A"]

	err := a.HandleMsg(&comm.Msg{Replica: "B", Vclock: comm.VClock{"B": 1}, Payload: "add|bm9wZQ=="})
	require.NotNil(t, err)
	assert.Equal(t, comm.ErrMalformed, errors.Cause(err))

	err = a.HandleMsg(&comm.Msg{Replica: "A", Vclock: comm.VClock{"A": 1}, Payload: "rmv|bm9wZQ=="})
	require.NotNil(t, err)
	assert.Equal(t, comm.ErrMalformed, errors.Cause(err))

	assert.Equal(t, 0, a.Stats().Pending)
}

// TestPersistFailure checks that an operation that
// could not be persisted neither sticks nor leaves
// the replica.
func TestPersistFailure(t *testing.T) {

	c := &cluster{names: []string{"A", "B"}, inboxes: make(map[string][]*comm.Msg)}
	store := &failingStore{}

	a, err := node.InitService(log.NewNopLogger(), "A", []string{"B"}, store, &outbox{name: "A", cluster: c})
	require.Nil(t, err)

	err = a.Add("apple")
	assert.NotNil(t, err)
	assert.Equal(t, 1, store.applies)
	assert.False(t, a.Contains("apple"))
	assert.Empty(t, c.inboxes["B"])
	assert.Equal(t, "A:0;B:0", a.Stats().VClock)
}

// TestHandleMsgPersistFailure checks that a downstream
// operation that could not be persisted is not applied
// and gets accepted when the sender retries it.
func TestHandleMsgPersistFailure(t *testing.T) {

	c := newCluster(t, "A", "B")
	a, b := c.services["A"], c.services["B"]

	require.Nil(t, a.Add("apple"))
	msg := c.inboxes["B"][0]

	c.stores["B"].fail = 1
	assert.NotNil(t, b.HandleMsg(msg))
	assert.False(t, b.Contains("apple"))
	assert.Equal(t, "A:0;B:0", b.Stats().VClock)
	assert.Equal(t, 0, b.Stats().Pending)

	// Retry by the sender.
	c.deliver("B", 0)
	assert.True(t, b.Contains("apple"))

	require.Nil(t, b.Add("pear"))
	c.restart("B")
	b = c.services["B"]

	assert.Equal(t, []string{"apple", "pear"}, b.Elements())
	assert.Equal(t, "A:1;B:1", b.Stats().VClock)

	c.sync("A", "B")
	c.sync("B", "A")
	c.deliverAll()

	assert.Equal(t, []string{"apple", "pear"}, a.Elements())
	assert.Equal(t, []string{"apple", "pear"}, b.Elements())
}

// TestHandleSyncPersistFailure checks that a full state
// that could not be persisted leaves the replica as it
// was, buffered messages included.
func TestHandleSyncPersistFailure(t *testing.T) {

	c := newCluster(t, "A", "B")
	a, b := c.services["A"], c.services["B"]

	require.Nil(t, a.Add("fig"))
	c.deliverAll()

	require.Nil(t, a.Add("apple"))
	c.drop("B")
	require.Nil(t, a.Add("pear"))
	require.Nil(t, a.Remove("fig"))

	// Both wait for the lost add of the apple.
	c.deliverAll()
	require.Equal(t, 2, b.Stats().Pending)

	c.stores["B"].fail = 1
	assert.NotNil(t, b.HandleSync(a.SyncMsg()))
	assert.Equal(t, []string{"fig"}, b.Elements())
	assert.Equal(t, 2, b.Stats().Pending)
	assert.Equal(t, "A:1;B:0", b.Stats().VClock)

	c.restart("B")
	b = c.services["B"]
	assert.Equal(t, []string{"fig"}, b.Elements())

	c.sync("A", "B")
	assert.Equal(t, []string{"apple", "pear"}, b.Elements())

	c.sync("B", "A")
	assert.Equal(t, []string{"apple", "pear"}, a.Elements())
}

// TestConvergence runs random operations on three
// replicas with messages delivered out of order,
// duplicated and lost, failing writes, full syncs and
// restarts in between, then checks that all replicas
// agree once every message and state got exchanged.
func TestConvergence(t *testing.T) {

	for _, seed := range []int64{23, 42, 1337} {

		c := newCluster(t, "A", "B", "C")
		values := []string{"apple", "pear", "plum", "fig"}
		r := rand.New(rand.NewSource(seed))

		for step := 0; step < 400; step++ {

			name := c.names[r.Intn(len(c.names))]
			svc := c.services[name]
			inbox := c.inboxes[name]

			switch choice := r.Intn(20); {
			case choice < 5:
				require.Nil(t, svc.Add(values[r.Intn(len(values))]))
			case choice < 8:
				require.Nil(t, svc.Remove(values[r.Intn(len(values))]))
			case choice < 14:
				if len(inbox) > 0 {
					c.deliver(name, r.Intn(len(inbox)))
				}
			case choice < 15:
				if len(inbox) > 0 {

					// Duplicate delivery.
					require.Nil(t, svc.HandleMsg(inbox[r.Intn(len(inbox))]))
				}
			case choice < 16:
				if len(inbox) > 0 {

					// Failed write, the message stays queued. Nothing
					// is written for duplicates or unready messages.
					c.stores[name].fail = 1
					svc.HandleMsg(inbox[r.Intn(len(inbox))])
					c.stores[name].fail = 0
				}
			case choice < 17:
				if len(inbox) > 0 {

					// Lost message.
					i := r.Intn(len(inbox))
					c.inboxes[name] = append(inbox[:i], inbox[(i+1):]...)
				}
			case choice < 19:
				from := c.names[r.Intn(len(c.names))]
				if from != name {

					if r.Intn(4) == 0 {
						c.stores[name].fail = 1
						assert.NotNil(t, svc.HandleSync(c.services[from].SyncMsg()))
					} else {
						c.sync(from, name)
					}
				}
			default:
				c.restart(name)
			}
		}

		for _, name := range c.names {

			for len(c.inboxes[name]) > 0 {
				c.deliver(name, r.Intn(len(c.inboxes[name])))
			}
		}

		// Repair what got lost.
		for round := 0; round < 2; round++ {

			for _, from := range c.names {

				for _, to := range c.names {

					if from != to {
						c.sync(from, to)
					}
				}
			}
		}

		expected := c.services["A"].Elements()
		for _, name := range c.names {
			assert.Equal(t, expected, c.services[name].Elements(), "seed %d: replica %s diverged", seed, name)
			assert.Equal(t, 0, c.services[name].Stats().Pending, "seed %d: replica %s", seed, name)
		}
	}
}
