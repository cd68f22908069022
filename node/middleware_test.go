package node_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics/generic"
	"github.com/go-pluto/orset/comm"
	"github.com/go-pluto/orset/node"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Structs

type recordingSyncer struct {
	lock  sync.Mutex
	fail  bool
	peers []string
	state []*comm.SyncMsg
}

// Functions

func (r *recordingSyncer) SendSync(ctx context.Context, peer string, state *comm.SyncMsg) error {

	r.lock.Lock()
	defer r.lock.Unlock()

	r.peers = append(r.peers, peer)
	r.state = append(r.state, state)

	if r.fail {
		return errors.New("connection refused")
	}

	return nil
}

func (r *recordingSyncer) rounds() int {

	r.lock.Lock()
	defer r.lock.Unlock()

	return len(r.peers)
}

// TestMetricsService checks that counters and gauges
// follow the operations.
func TestMetricsService(t *testing.T) {

	c := newCluster(t, "A", "B")

	m := &node.Metrics{
		Adds:     generic.NewCounter("adds"),
		Removes:  generic.NewCounter("removes"),
		Msgs:     generic.NewCounter("msgs"),
		Syncs:    generic.NewCounter("syncs"),
		Elements: generic.NewGauge("elements"),
		Tags:     generic.NewGauge("tags"),
	}

	a := node.NewMetricsService(c.services["A"], m)
	b := node.NewMetricsService(c.services["B"], &node.Metrics{
		Adds:     generic.NewCounter("adds"),
		Removes:  generic.NewCounter("removes"),
		Msgs:     m.Msgs,
		Syncs:    m.Syncs,
		Elements: generic.NewGauge("elements"),
		Tags:     generic.NewGauge("tags"),
	})

	require.Nil(t, a.Add("apple"))
	require.Nil(t, a.Add("apple"))
	require.Nil(t, a.Add("pear"))
	require.Nil(t, a.Remove("pear"))

	assert.Equal(t, float64(3), m.Adds.(*generic.Counter).Value())
	assert.Equal(t, float64(1), m.Removes.(*generic.Counter).Value())
	assert.Equal(t, float64(1), m.Elements.(*generic.Gauge).Value())
	assert.Equal(t, float64(2), m.Tags.(*generic.Gauge).Value())

	for len(c.inboxes["B"]) > 0 {

		msg := c.inboxes["B"][0]
		c.inboxes["B"] = c.inboxes["B"][1:]
		require.Nil(t, b.HandleMsg(msg))
	}

	require.Nil(t, b.HandleSync(a.SyncMsg()))

	assert.Equal(t, float64(4), m.Msgs.(*generic.Counter).Value())
	assert.Equal(t, float64(1), m.Syncs.(*generic.Counter).Value())
	assert.Equal(t, []string{"apple"}, b.Elements())
	assert.True(t, b.Contains("apple"))
	assert.Equal(t, 2, b.Stats().Tags)
}

// TestLoggingService checks that failures get logged
// and results are passed through.
func TestLoggingService(t *testing.T) {

	c := newCluster(t, "A", "B")

	var buf bytes.Buffer
	logger := level.NewFilter(log.NewLogfmtLogger(&buf), level.AllowInfo())

	a := node.NewLoggingService(c.services["A"], logger)

	require.Nil(t, a.Add("apple"))
	require.Nil(t, a.Remove("apple"))
	assert.Empty(t, a.Elements())
	assert.Equal(t, "", buf.String())

	err := a.HandleMsg(&comm.Msg{Replica: "B", Vclock: comm.VClock{"B": 1}, Payload: "nonsense"})
	assert.NotNil(t, err)
	assert.True(t, strings.Contains(buf.String(), "method=DOWNSTREAM"))
	assert.True(t, strings.Contains(buf.String(), "from=B"))
}

// TestRunAntiEntropy checks that states are pushed
// to peers periodically until cancelled.
func TestRunAntiEntropy(t *testing.T) {

	c := newCluster(t, "A", "B", "C")
	require.Nil(t, c.services["A"].Add("apple"))

	syncer := &recordingSyncer{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		node.RunAntiEntropy(ctx, log.NewNopLogger(), c.services["A"], syncer, []string{"B", "C"}, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return syncer.rounds() >= 3
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	<-done

	syncer.lock.Lock()
	defer syncer.lock.Unlock()

	for i, peer := range syncer.peers {
		assert.Contains(t, []string{"B", "C"}, peer)
		assert.Equal(t, "A", syncer.state[i].Replica)
		require.Len(t, syncer.state[i].Elements, 1)
		assert.Equal(t, "apple", syncer.state[i].Elements[0].Value)
	}
}

// TestRunAntiEntropyFailures checks that failing rounds
// do not stop the loop and that it returns right away
// without peers.
func TestRunAntiEntropyFailures(t *testing.T) {

	c := newCluster(t, "A", "B")

	syncer := &recordingSyncer{fail: true}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go node.RunAntiEntropy(ctx, log.NewNopLogger(), c.services["A"], syncer, []string{"B"}, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return syncer.rounds() >= 2
	}, 5*time.Second, 5*time.Millisecond)

	// Returns immediately.
	node.RunAntiEntropy(context.Background(), log.NewNopLogger(), c.services["A"], syncer, nil, time.Millisecond)
}
