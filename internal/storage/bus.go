package storage

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yszxh/gproxy/internal/credential"
	"github.com/yszxh/gproxy/internal/pool"
)

const (
	controlChanSize  = 1024
	trafficChanSize  = 65536
	trafficBatchSize = 200
	trafficFlushTick = 200 * time.Millisecond
	retryBackoff     = 200 * time.Millisecond
)

// controlOp is one durable control-plane write, retried until it succeeds.
type controlOp func(ctx context.Context, store Store) error

// trafficRecord is the sum of the three record kinds flowing through the
// traffic channel. Exactly one field is set.
type trafficRecord struct {
	downstream *DownstreamTraffic
	upstream   *UpstreamTraffic
	usage      *UpstreamUsage
}

// Bus decouples the request path from the database. Traffic and usage
// records are batched; control writes such as disallow marks and refreshed
// tokens are applied in order and retried until they land.
type Bus struct {
	store   Store
	control chan controlOp
	traffic chan trafficRecord
}

// NewBus creates a bus backed by store. Call Run to start the writers.
func NewBus(store Store) *Bus {
	return &Bus{
		store:   store,
		control: make(chan controlOp, controlChanSize),
		traffic: make(chan trafficRecord, trafficChanSize),
	}
}

// Run processes both channels until ctx is cancelled, then drains what is
// already queued.
func (b *Bus) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return b.runControl(groupCtx) })
	group.Go(func() error { return b.runTraffic(groupCtx) })
	return group.Wait()
}

// SubmitDisallow implements pool.StateSink.
func (b *Bus) SubmitDisallow(record pool.Record) {
	b.submitControl(func(ctx context.Context, store Store) error {
		return store.UpsertDisallow(ctx, record)
	})
}

// SubmitSecret persists a refreshed credential secret.
func (b *Bus) SubmitSecret(credentialID int64, secret credential.Secret) {
	b.submitControl(func(ctx context.Context, store Store) error {
		return store.UpdateCredentialSecret(ctx, credentialID, secret)
	})
}

// SubmitMeta persists a changed credential meta map.
func (b *Bus) SubmitMeta(credentialID int64, meta credential.Meta) {
	b.submitControl(func(ctx context.Context, store Store) error {
		return store.UpdateCredentialMeta(ctx, credentialID, meta)
	})
}

// SubmitDownstream enqueues a client-facing traffic record.
func (b *Bus) SubmitDownstream(record DownstreamTraffic) {
	b.submitTraffic(trafficRecord{downstream: &record})
}

// SubmitUpstream enqueues a provider-facing traffic record.
func (b *Bus) SubmitUpstream(record UpstreamTraffic) {
	b.submitTraffic(trafficRecord{upstream: &record})
}

// SubmitUsage enqueues a token usage summary.
func (b *Bus) SubmitUsage(record UpstreamUsage) {
	b.submitTraffic(trafficRecord{usage: &record})
}

// submitControl blocks when the channel is full; state writes must not be
// lost even when the database is slow.
func (b *Bus) submitControl(op controlOp) {
	b.control <- op
}

// submitTraffic blocks when the channel is full. The channel is deep enough
// that a blocked send only happens when the database has fallen far behind.
func (b *Bus) submitTraffic(record trafficRecord) {
	b.traffic <- record
}

func (b *Bus) runControl(ctx context.Context) error {
	for {
		select {
		case op := <-b.control:
			b.applyControl(ctx, op)
		case <-ctx.Done():
			for {
				select {
				case op := <-b.control:
					b.applyControl(context.Background(), op)
				default:
					return nil
				}
			}
		}
	}
}

// applyControl retries the write until it succeeds or the context ends.
func (b *Bus) applyControl(ctx context.Context, op controlOp) {
	for {
		err := op(ctx, b.store)
		if err == nil {
			return
		}
		log.Errorf("control write failed, retrying: %v", err)
		select {
		case <-time.After(retryBackoff):
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bus) runTraffic(ctx context.Context) error {
	ticker := time.NewTicker(trafficFlushTick)
	defer ticker.Stop()

	batch := make([]trafficRecord, 0, trafficBatchSize)
	for {
		select {
		case record := <-b.traffic:
			batch = append(batch, record)
			if len(batch) >= trafficBatchSize {
				b.flushTraffic(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				b.flushTraffic(ctx, batch)
				batch = batch[:0]
			}
		case <-ctx.Done():
			for {
				select {
				case record := <-b.traffic:
					batch = append(batch, record)
				default:
					b.flushTraffic(context.Background(), batch)
					return nil
				}
			}
		}
	}
}

// flushTraffic splits a batch by kind and writes each group, retrying until
// every insert succeeds.
func (b *Bus) flushTraffic(ctx context.Context, batch []trafficRecord) {
	if len(batch) == 0 {
		return
	}
	var downstream []DownstreamTraffic
	var upstream []UpstreamTraffic
	var usages []UpstreamUsage
	for _, record := range batch {
		switch {
		case record.downstream != nil:
			downstream = append(downstream, *record.downstream)
		case record.upstream != nil:
			upstream = append(upstream, *record.upstream)
		case record.usage != nil:
			usages = append(usages, *record.usage)
		}
	}
	b.retryInsert(ctx, "downstream traffic", func(c context.Context) error {
		return b.store.InsertDownstream(c, downstream)
	})
	b.retryInsert(ctx, "upstream traffic", func(c context.Context) error {
		return b.store.InsertUpstream(c, upstream)
	})
	b.retryInsert(ctx, "usage", func(c context.Context) error {
		return b.store.InsertUsage(c, usages)
	})
}

func (b *Bus) retryInsert(ctx context.Context, what string, insert func(context.Context) error) {
	for {
		err := insert(ctx)
		if err == nil {
			return
		}
		log.Errorf("%s flush failed, retrying: %v", what, err)
		select {
		case <-time.After(retryBackoff):
		case <-ctx.Done():
			return
		}
	}
}
