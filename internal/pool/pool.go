// Package pool implements the per-provider credential pool: weighted
// selection, a bounded retry loop, and the disallow-mark lifecycle.
//
// The pool owns the authoritative disallow state in memory; the database is
// an audit log and a recovery source at startup. Snapshot reads are
// wait-free; mutations are serialized through an internal critical section
// and published with a copy-on-write pointer swap.
package pool

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yszxh/gproxy/internal/credential"
	"github.com/yszxh/gproxy/internal/telemetry"
)

// maxAttempts is the hard ceiling on upstream attempts per request.
const maxAttempts = 8

// Passthrough is an upstream non-2xx response surfaced to the client as-is.
type Passthrough struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (p *Passthrough) Error() string {
	return fmt.Sprintf("upstream status %d", p.StatusCode)
}

// Synthesize builds a local passthrough with a vendor-neutral error body.
func Synthesize(status int, message string) *Passthrough {
	body := fmt.Sprintf(`{"error":{"message":%q}}`, message)
	return &Passthrough{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       []byte(body),
	}
}

// AttemptFailure is the outcome of one failed upstream attempt. A nil Mark
// means the failure is a client error: surface it and do not rotate.
type AttemptFailure struct {
	Passthrough *Passthrough
	Mark        *Mark
}

// AttemptFunc runs one upstream call against a selected credential.
// It returns nil on success.
type AttemptFunc func(entry *credential.Credential) *AttemptFailure

// Snapshot is an immutable (credentials, marks) pair. Readers always observe
// a consistent view.
type Snapshot struct {
	credentials []*credential.Credential
	disallow    map[disallowKey]DisallowEntry
}

// NewSnapshot builds a snapshot from credential entries and active marks.
func NewSnapshot(creds []*credential.Credential, records []Record) *Snapshot {
	disallow := make(map[disallowKey]DisallowEntry, len(records))
	for _, r := range records {
		disallow[disallowKey{credentialID: r.CredentialID, scope: r.Scope}] = DisallowEntry{
			Level:     r.Level,
			Until:     r.Until,
			Reason:    r.Reason,
			UpdatedAt: r.UpdatedAt,
		}
	}
	return &Snapshot{credentials: creds, disallow: disallow}
}

// Credentials returns the snapshot's entries in declaration order.
func (s *Snapshot) Credentials() []*credential.Credential { return s.credentials }

// DisallowRecords returns the snapshot's active marks for admin reads.
func (s *Snapshot) DisallowRecords(provider string) []Record {
	out := make([]Record, 0, len(s.disallow))
	for key, entry := range s.disallow {
		out = append(out, Record{
			Provider:     provider,
			CredentialID: key.credentialID,
			Scope:        key.scope,
			Level:        entry.Level,
			Until:        entry.Until,
			Reason:       entry.Reason,
			UpdatedAt:    entry.UpdatedAt,
		})
	}
	return out
}

func (s *Snapshot) blocked(id int64, scope Scope, now time.Time) bool {
	if entry, ok := s.disallow[disallowKey{credentialID: id, scope: AllModels()}]; ok && entry.Active(now) {
		return true
	}
	if scope.Kind == ScopeModel {
		if entry, ok := s.disallow[disallowKey{credentialID: id, scope: scope}]; ok {
			return entry.Active(now)
		}
	}
	return false
}

func (s *Snapshot) hasExpired(now time.Time) bool {
	for _, entry := range s.disallow {
		if !entry.Active(now) {
			return true
		}
	}
	return false
}

// Pool selects credentials for one provider under weighted policy.
type Pool struct {
	provider string
	mu       sync.Mutex // serializes snapshot mutation
	snapshot atomic.Pointer[Snapshot]
	sink     StateSink
}

// New builds a pool with an initial snapshot. sink may be nil.
func New(provider string, snapshot *Snapshot, sink StateSink) *Pool {
	p := &Pool{provider: provider, sink: sink}
	if snapshot == nil {
		snapshot = NewSnapshot(nil, nil)
	}
	p.snapshot.Store(snapshot)
	return p
}

// Provider returns the owning provider name.
func (p *Pool) Provider() string { return p.provider }

// ReplaceSnapshot swaps in a new (credentials, marks) pair wholesale.
func (p *Pool) ReplaceSnapshot(snapshot *Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshot.Store(snapshot)
}

// Snapshot returns the current snapshot.
func (p *Pool) Snapshot() *Snapshot { return p.snapshot.Load() }

// Execute picks eligible credentials under weighted random choice and runs
// attempt against them, rotating on failures that installed a mark. The last
// passthrough is surfaced unchanged when no credential succeeds.
func (p *Pool) Execute(scope Scope, attempt AttemptFunc) *Passthrough {
	snapshot := p.snapshot.Load()
	now := time.Now()

	type candidate struct {
		cred   *credential.Credential
		weight uint32
	}
	candidates := make([]candidate, 0, len(snapshot.credentials))
	for _, cred := range snapshot.credentials {
		if !cred.Enabled || snapshot.blocked(cred.ID, scope, now) {
			continue
		}
		candidates = append(candidates, candidate{cred: cred, weight: cred.Weight})
	}

	var last *Passthrough
	attempts := 0
	for len(candidates) > 0 && attempts < maxAttempts {
		weights := make([]uint32, len(candidates))
		for i := range candidates {
			weights[i] = candidates[i].weight
		}
		index := pickWeightedIndex(weights)
		chosen := candidates[index].cred
		candidates[index] = candidates[len(candidates)-1]
		candidates = candidates[:len(candidates)-1]
		attempts++

		failure := attempt(chosen)
		if failure == nil {
			telemetry.UpstreamAttempts.WithLabelValues(p.provider, "ok").Inc()
			p.pruneExpired()
			return nil
		}
		telemetry.UpstreamAttempts.WithLabelValues(p.provider, "error").Inc()
		if failure.Mark == nil {
			// Client error; surface as-is without rotating.
			return failure.Passthrough
		}
		p.applyMark(chosen.ID, failure.Mark)
		last = failure.Passthrough
		if len(candidates) > 0 {
			telemetry.PoolRotations.WithLabelValues(p.provider).Inc()
		}
	}
	if last != nil {
		return last
	}
	return Synthesize(http.StatusServiceUnavailable, "no credential available")
}

// ExecuteForID pins the attempt to one credential id and never rotates.
func (p *Pool) ExecuteForID(id int64, scope Scope, attempt AttemptFunc) *Passthrough {
	snapshot := p.snapshot.Load()
	now := time.Now()
	var chosen *credential.Credential
	for _, cred := range snapshot.credentials {
		if cred.ID == id {
			chosen = cred
			break
		}
	}
	if chosen == nil {
		return Synthesize(http.StatusNotFound, "credential not found")
	}
	if !chosen.Enabled {
		return Synthesize(http.StatusForbidden, "credential disabled")
	}
	if snapshot.blocked(id, scope, now) {
		return Synthesize(http.StatusForbidden, "credential disallowed")
	}
	failure := attempt(chosen)
	if failure == nil {
		return nil
	}
	if failure.Mark != nil {
		p.applyMark(id, failure.Mark)
	}
	return failure.Passthrough
}

// ApplyMark installs a mark from outside an Execute loop, e.g. after a
// refresh-token failure discovered asynchronously.
func (p *Pool) ApplyMark(credentialID int64, mark *Mark) {
	p.applyMark(credentialID, mark)
}

func (p *Pool) applyMark(credentialID int64, mark *Mark) {
	now := time.Now()
	entry := DisallowEntry{Level: mark.Level, Reason: mark.Reason, UpdatedAt: now}
	if mark.Level == LevelTransient {
		entry.Until = now.Add(mark.Duration)
	}
	key := disallowKey{credentialID: credentialID, scope: mark.Scope}

	p.mu.Lock()
	current := p.snapshot.Load()
	disallow := make(map[disallowKey]DisallowEntry, len(current.disallow)+1)
	for existingKey, existingEntry := range current.disallow {
		if existingEntry.Active(now) {
			disallow[existingKey] = existingEntry
		}
	}
	disallow[key] = entry
	p.snapshot.Store(&Snapshot{credentials: current.credentials, disallow: disallow})
	p.mu.Unlock()

	telemetry.DisallowMarks.WithLabelValues(p.provider, mark.Level.String()).Inc()
	if p.sink != nil {
		p.sink.SubmitDisallow(Record{
			Provider:     p.provider,
			CredentialID: credentialID,
			Scope:        mark.Scope,
			Level:        mark.Level,
			Until:        entry.Until,
			Reason:       mark.Reason,
			UpdatedAt:    now,
		})
	}
}

// pruneExpired drops transient marks whose until has passed. Unexpired marks
// are kept even after a success; expiry is the only clearing rule.
func (p *Pool) pruneExpired() {
	now := time.Now()
	if !p.snapshot.Load().hasExpired(now) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	current := p.snapshot.Load()
	disallow := make(map[disallowKey]DisallowEntry, len(current.disallow))
	for key, entry := range current.disallow {
		if entry.Active(now) {
			disallow[key] = entry
		}
	}
	p.snapshot.Store(&Snapshot{credentials: current.credentials, disallow: disallow})
}

// pickWeightedIndex selects an index with probability proportional to its
// weight. All-zero weights degrade to uniform random.
func pickWeightedIndex(weights []uint32) int {
	if len(weights) == 0 {
		return 0
	}
	var total uint64
	for _, w := range weights {
		total += uint64(w)
	}
	if total == 0 {
		return rand.IntN(len(weights))
	}
	roll := rand.Uint64N(total)
	for i, w := range weights {
		if roll < uint64(w) {
			return i
		}
		roll -= uint64(w)
	}
	return len(weights) - 1
}
