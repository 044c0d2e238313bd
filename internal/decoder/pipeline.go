package decoder

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/devlongs/mev-searcher/internal/chain"
	"github.com/devlongs/mev-searcher/internal/feed"
	"github.com/devlongs/mev-searcher/internal/output"
	"github.com/devlongs/mev-searcher/pkg/types"
)

// Handler is called after an accepted update has been applied
type Handler func(ctx context.Context, seq uint64)

// Pipeline is the single consumer of the merged feed stream. Every update
// is applied to each market's decoder before the handler runs.
type Pipeline struct {
	seq      feed.Sequencer
	heads    *chain.HeadStore
	decoders []*Decoder
	stats    *output.Stats
}

// NewPipeline wires the second stage of the feed
func NewPipeline(heads *chain.HeadStore, stats *output.Stats, decoders ...*Decoder) *Pipeline {
	return &Pipeline{
		heads:    heads,
		decoders: decoders,
		stats:    stats,
	}
}

// Run processes updates in strictly increasing sequence order until ctx is
// cancelled or the channel closes
func (p *Pipeline) Run(ctx context.Context, updates <-chan *types.PartialBlockUpdate, handle Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			p.Process(ctx, update, handle)
		}
	}
}

// Process applies one update. It reports whether the update was accepted.
func (p *Pipeline) Process(ctx context.Context, update *types.PartialBlockUpdate, handle Handler) bool {
	seq := update.Sequence()
	if !p.seq.Accept(seq) {
		p.stats.UpdatesDropped.Add(1)
		log.Debug().Uint64("seq", seq).Uint64("last", p.seq.Last()).Msg("Dropping stale update")
		return false
	}
	p.stats.UpdatesAccepted.Add(1)

	if p.heads.MergeBase(update.Base) {
		log.Debug().
			Uint64("block", uint64(update.Base.BlockNumber)).
			Uint64("timestamp", uint64(update.Base.Timestamp)).
			Msg("Flashblock base merged")
	}

	for _, d := range p.decoders {
		if n := d.Apply(update); n > 0 {
			p.stats.SwapsDecoded.Add(uint64(n))
		}
	}

	if handle != nil {
		handle(ctx, seq)
	}
	return true
}
