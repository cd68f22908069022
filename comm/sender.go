package comm

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// callTimeout bounds a single delivery attempt.
var callTimeout = 10 * time.Second

// Structs

// Sender bundles information needed for sending
// out sync messages via CRDTs to all peers.
type Sender struct {
	lock     *sync.Mutex
	logger   log.Logger
	name     string
	retry    time.Duration
	nodes    map[string]string
	conns    map[string]*grpc.ClientConn
	queues   map[string][]*Msg
	msgInLog map[string]chan struct{}
	shutdown chan struct{}
	wg       *sync.WaitGroup
}

// Functions

// InitSender initializes above struct, prepares one
// connection per peer in nodes (name to address) and
// starts one background routine per peer that delivers
// queued messages in order.
func InitSender(logger log.Logger, name string, nodes map[string]string, retry time.Duration, gRPCOptions []grpc.DialOption) (*Sender, error) {

	sender := &Sender{
		lock:     &sync.Mutex{},
		logger:   logger,
		name:     name,
		retry:    retry,
		nodes:    nodes,
		conns:    make(map[string]*grpc.ClientConn),
		queues:   make(map[string][]*Msg),
		msgInLog: make(map[string]chan struct{}),
		shutdown: make(chan struct{}),
		wg:       &sync.WaitGroup{},
	}

	for node, addr := range nodes {

		// Dialing does not block, the connection is
		// established on first use and re-established
		// whenever it breaks.
		conn, err := grpc.Dial(addr, gRPCOptions...)
		if err != nil {
			sender.closeConns()
			return nil, errors.Wrapf(err, "preparing connection to replica %s at %s failed", node, addr)
		}

		sender.conns[node] = conn
		sender.msgInLog[node] = make(chan struct{}, 1)
	}

	for node := range nodes {
		sender.wg.Add(1)
		go sender.SendMsgs(node)
	}

	return sender, nil
}

// Nodes returns the sorted names of all peers.
func (sender *Sender) Nodes() []string {

	nodes := make([]string, 0, len(sender.nodes))
	for node := range sender.nodes {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	return nodes
}

// Broadcast appends msg to the queue of every peer
// and signals the delivering routines. It never blocks
// on the network.
func (sender *Sender) Broadcast(msg *Msg) {

	sender.lock.Lock()
	for node := range sender.nodes {
		sender.queues[node] = append(sender.queues[node], msg)
	}
	sender.lock.Unlock()

	for node := range sender.nodes {
		signal(sender.msgInLog[node])
	}
}

// Pending returns the number of messages not yet
// acknowledged by peer node.
func (sender *Sender) Pending(node string) int {

	sender.lock.Lock()
	defer sender.lock.Unlock()

	return len(sender.queues[node])
}

// SendSync pushes a full state to peer node once.
func (sender *Sender) SendSync(ctx context.Context, node string, state *SyncMsg) error {

	conn, found := sender.conns[node]
	if !found {
		return errors.Errorf("unknown replica %s", node)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	_, err := NewReceiverClient(conn).Sync(ctx, state)
	if err != nil {
		return errors.Wrapf(err, "sending state to replica %s failed", node)
	}

	return nil
}

// SendMsgs waits for a signal indicating that messages
// are waiting in the queue of peer node and delivers
// them one after another, retrying each until the peer
// acknowledged it.
func (sender *Sender) SendMsgs(node string) {

	defer sender.wg.Done()

	client := NewReceiverClient(sender.conns[node])

	for {

		select {
		case <-sender.shutdown:
			return
		case <-sender.msgInLog[node]:
		}

		for {

			sender.lock.Lock()
			if len(sender.queues[node]) == 0 {
				sender.lock.Unlock()
				break
			}
			msg := sender.queues[node][0]
			sender.lock.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
			_, err := client.Incoming(ctx, msg)
			cancel()

			if err != nil {

				// A message the peer rejects as malformed
				// will never succeed, drop it.
				if status.Code(err) != codes.InvalidArgument {

					level.Warn(sender.logger).Log(
						"msg", "could not send downstream message, retrying",
						"to", node,
						"err", err,
					)

					select {
					case <-sender.shutdown:
						return
					case <-time.After(sender.retry):
					}

					continue
				}

				level.Error(sender.logger).Log(
					"msg", "downstream message rejected by replica, dropping it",
					"to", node,
					"err", err,
				)
			}

			// Remove delivered message from queue.
			sender.lock.Lock()
			sender.queues[node][0] = nil
			sender.queues[node] = sender.queues[node][1:]
			sender.lock.Unlock()
		}
	}
}

// Shutdown stops all delivering routines and closes
// the connections to the peers. Undelivered messages
// are discarded.
func (sender *Sender) Shutdown() {

	close(sender.shutdown)
	sender.wg.Wait()

	sender.closeConns()
}

func (sender *Sender) closeConns() {

	for node, conn := range sender.conns {

		if err := conn.Close(); err != nil {
			level.Debug(sender.logger).Log(
				"msg", "closing connection failed",
				"to", node,
				"err", err,
			)
		}
	}
}

// signal marks a buffered channel of capacity one
// as full without blocking.
func signal(ch chan struct{}) {

	select {
	case ch <- struct{}{}:
	default:
	}
}
