package node

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/orset/comm"
	"github.com/jmcvetta/randutil"
)

// Syncer pushes a full state to one peer.
type Syncer interface {
	SendSync(ctx context.Context, node string, state *comm.SyncMsg) error
}

// RunAntiEntropy pushes the full state of svc to one
// randomly chosen peer every interval until ctx is done.
// This repairs replicas that missed operations and
// releases operations stuck in their causal buffers.
func RunAntiEntropy(ctx context.Context, logger log.Logger, svc Service, syncer Syncer, peers []string, interval time.Duration) {

	if (len(peers) == 0) || (interval <= 0) {
		level.Debug(logger).Log("msg", "no peers or no sync interval, anti-entropy disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		peer, err := randutil.ChoiceString(peers)
		if err != nil {
			level.Error(logger).Log("msg", "failed to choose sync peer", "err", err)
			continue
		}

		if err := syncer.SendSync(ctx, peer, svc.SyncMsg()); err != nil {
			level.Warn(logger).Log(
				"msg", "anti-entropy round failed",
				"to", peer,
				"err", err,
			)
			continue
		}

		level.Debug(logger).Log("msg", "pushed state", "to", peer)
	}
}
