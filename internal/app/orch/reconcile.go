package orch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ribbonhq/ribbon/internal/domain"
)

// Reconcile compares each room's producer table against the engine's and
// drops entries the engine no longer knows, announcing them as closed.
// Rooms the engine cannot report on are skipped untouched; a transient
// engine outage must not wipe live state.
func (o *Orchestrator) Reconcile(ctx context.Context) {
	for _, room := range o.Registry.Rooms() {
		// Anything committed after this point postdates the engine snapshot
		// and is exempt from the sweep.
		sweepStart := time.Now()
		infos, err := o.Engine.Producers(ctx, room.ID, "")
		if err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("room", string(room.ID)).Msg("reconcile skipped")
			continue
		}
		live := make(map[domain.ProducerID]bool, len(infos))
		for _, p := range infos {
			live[p.ProducerID] = true
		}
		for _, dropped := range room.RetainProducers(live, sweepStart) {
			log.Info().Str("module", "orch").Str("room", string(room.ID)).Str("producer", string(dropped.ProducerID)).Msg("reconcile dropped stale producer")
			o.notify().ProducerClosed(room.ID, dropped.PeerID, dropped.ProducerID)
		}
	}
}

// RunReconciler sweeps on the given interval until the context ends.
func (o *Orchestrator) RunReconciler(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			o.Reconcile(ctx)
		}
	}
}
