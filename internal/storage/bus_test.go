package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yszxh/gproxy/internal/credential"
	"github.com/yszxh/gproxy/internal/pool"
)

// recordingStore captures bus writes; all other Store methods are unused.
type recordingStore struct {
	Store
	mu         sync.Mutex
	disallow   []pool.Record
	secrets    map[int64]credential.Secret
	usage      []UpstreamUsage
	downstream []DownstreamTraffic
	upstream   []UpstreamTraffic
	failFirst  bool
}

func (r *recordingStore) UpsertDisallow(_ context.Context, record pool.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disallow = append(r.disallow, record)
	return nil
}

func (r *recordingStore) UpdateCredentialSecret(_ context.Context, id int64, secret credential.Secret) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.secrets == nil {
		r.secrets = make(map[int64]credential.Secret)
	}
	r.secrets[id] = secret
	return nil
}

func (r *recordingStore) UpdateCredentialMeta(context.Context, int64, credential.Meta) error {
	return nil
}

func (r *recordingStore) InsertDownstream(_ context.Context, records []DownstreamTraffic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downstream = append(r.downstream, records...)
	return nil
}

func (r *recordingStore) InsertUpstream(_ context.Context, records []UpstreamTraffic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upstream = append(r.upstream, records...)
	return nil
}

func (r *recordingStore) InsertUsage(_ context.Context, records []UpstreamUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFirst {
		r.failFirst = false
		return context.DeadlineExceeded
	}
	r.usage = append(r.usage, records...)
	return nil
}

func (r *recordingStore) snapshot() (int, int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.disallow), len(r.downstream), len(r.upstream), len(r.usage)
}

func TestBusFlushesAllRecordKinds(t *testing.T) {
	store := &recordingStore{}
	bus := NewBus(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = bus.Run(ctx)
		close(done)
	}()

	bus.SubmitDisallow(pool.Record{Provider: "p", CredentialID: 1, Level: pool.LevelTransient})
	bus.SubmitSecret(5, credential.Secret{Kind: credential.SecretAPIKey, APIKey: "k"})
	bus.SubmitDownstream(DownstreamTraffic{Path: "/v1/messages", Status: 200})
	bus.SubmitUpstream(UpstreamTraffic{Provider: "p", Status: 200})
	bus.SubmitUsage(UpstreamUsage{Provider: "p", Model: "m", TotalTokens: 10})

	require.Eventually(t, func() bool {
		disallow, downstream, upstream, usage := store.snapshot()
		return disallow == 1 && downstream == 1 && upstream == 1 && usage == 1
	}, 3*time.Second, 20*time.Millisecond)

	store.mu.Lock()
	assert.Equal(t, "k", store.secrets[5].APIKey)
	store.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("bus did not stop")
	}
}

func TestBusRetriesFailedFlush(t *testing.T) {
	store := &recordingStore{failFirst: true}
	bus := NewBus(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bus.Run(ctx) }()

	bus.SubmitUsage(UpstreamUsage{Provider: "p", Model: "m", TotalTokens: 1})

	require.Eventually(t, func() bool {
		_, _, _, usage := store.snapshot()
		return usage == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestTrafficSubmitBlocksWhenFull(t *testing.T) {
	bus := NewBus(&recordingStore{})
	for i := 0; i < trafficChanSize; i++ {
		bus.SubmitUsage(UpstreamUsage{})
	}

	submitted := make(chan struct{})
	go func() {
		bus.SubmitUsage(UpstreamUsage{Model: "m"})
		close(submitted)
	}()

	select {
	case <-submitted:
		t.Fatal("submit returned while the channel was full")
	case <-time.After(50 * time.Millisecond):
	}

	<-bus.traffic
	select {
	case <-submitted:
	case <-time.After(3 * time.Second):
		t.Fatal("submit did not complete after space freed")
	}
}

func TestBusDrainsOnShutdown(t *testing.T) {
	store := &recordingStore{}
	bus := NewBus(store)

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 10; i++ {
		bus.SubmitUsage(UpstreamUsage{Provider: "p", Model: "m"})
	}
	cancel()

	done := make(chan struct{})
	go func() {
		_ = bus.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("bus did not stop")
	}

	_, _, _, usage := store.snapshot()
	assert.Equal(t, 10, usage)
}
