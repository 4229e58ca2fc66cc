package pool

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yszxh/gproxy/internal/credential"
)

func apiKeyCred(id int64, weight uint32) *credential.Credential {
	return &credential.Credential{
		ID:      id,
		Enabled: true,
		Weight:  weight,
		Secret:  credential.Secret{Kind: credential.SecretAPIKey, APIKey: "sk-test"},
	}
}

type recordingSink struct {
	mu      sync.Mutex
	records []Record
}

func (s *recordingSink) SubmitDisallow(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

func TestWeightedSelectionConverges(t *testing.T) {
	p := New("claude", NewSnapshot([]*credential.Credential{
		apiKeyCred(1, 1),
		apiKeyCred(2, 3),
	}, nil), nil)

	counts := map[int64]int{}
	const n = 6000
	for i := 0; i < n; i++ {
		perr := p.Execute(AllModels(), func(c *credential.Credential) *AttemptFailure {
			counts[c.ID]++
			return nil
		})
		require.Nil(t, perr)
	}
	ratio := float64(counts[2]) / float64(n)
	assert.InDelta(t, 0.75, ratio, 0.05)
}

func TestZeroWeightNeverPickedUnlessAllZero(t *testing.T) {
	p := New("claude", NewSnapshot([]*credential.Credential{
		apiKeyCred(1, 0),
		apiKeyCred(2, 5),
	}, nil), nil)
	for i := 0; i < 500; i++ {
		perr := p.Execute(AllModels(), func(c *credential.Credential) *AttemptFailure {
			assert.EqualValues(t, 2, c.ID)
			return nil
		})
		require.Nil(t, perr)
	}

	allZero := New("claude", NewSnapshot([]*credential.Credential{
		apiKeyCred(1, 0),
		apiKeyCred(2, 0),
	}, nil), nil)
	seen := map[int64]bool{}
	for i := 0; i < 200; i++ {
		_ = allZero.Execute(AllModels(), func(c *credential.Credential) *AttemptFailure {
			seen[c.ID] = true
			return nil
		})
	}
	assert.True(t, seen[1] && seen[2])
}

func TestRotationTriesEachCredentialOnce(t *testing.T) {
	sink := &recordingSink{}
	p := New("claude", NewSnapshot([]*credential.Credential{
		apiKeyCred(1, 1), apiKeyCred(2, 1), apiKeyCred(3, 1),
	}, nil), sink)

	attempts := map[int64]int{}
	perr := p.Execute(ForModel("claude-sonnet-4-5"), func(c *credential.Credential) *AttemptFailure {
		attempts[c.ID]++
		return &AttemptFailure{
			Passthrough: Synthesize(http.StatusTooManyRequests, "rate limited"),
			Mark:        Transient(ForModel("claude-sonnet-4-5"), time.Hour, "429"),
		}
	})
	require.NotNil(t, perr)
	assert.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	require.Len(t, attempts, 3)
	for id, n := range attempts {
		assert.Equal(t, 1, n, "credential %d", id)
	}
	assert.Len(t, sink.records, 3)
}

func TestClientErrorDoesNotRotate(t *testing.T) {
	p := New("claude", NewSnapshot([]*credential.Credential{
		apiKeyCred(1, 1), apiKeyCred(2, 1),
	}, nil), nil)

	calls := 0
	perr := p.Execute(AllModels(), func(*credential.Credential) *AttemptFailure {
		calls++
		return &AttemptFailure{Passthrough: Synthesize(http.StatusBadRequest, "bad request")}
	})
	require.NotNil(t, perr)
	assert.Equal(t, http.StatusBadRequest, perr.StatusCode)
	assert.Equal(t, 1, calls)
}

func TestMarksExcludeUntilExpiry(t *testing.T) {
	p := New("claude", NewSnapshot([]*credential.Credential{
		apiKeyCred(1, 1), apiKeyCred(2, 1),
	}, nil), nil)

	p.ApplyMark(1, Transient(AllModels(), 50*time.Millisecond, "test"))
	perr := p.Execute(AllModels(), func(c *credential.Credential) *AttemptFailure {
		assert.EqualValues(t, 2, c.ID)
		return nil
	})
	require.Nil(t, perr)

	time.Sleep(60 * time.Millisecond)
	seen := map[int64]bool{}
	for i := 0; i < 100; i++ {
		_ = p.Execute(AllModels(), func(c *credential.Credential) *AttemptFailure {
			seen[c.ID] = true
			return nil
		})
	}
	assert.True(t, seen[1], "expired transient mark should clear")
}

func TestDeadMarkNeverExpires(t *testing.T) {
	p := New("claude", NewSnapshot([]*credential.Credential{apiKeyCred(1, 1)}, nil), nil)
	p.ApplyMark(1, Dead(AllModels(), "revoked refresh token"))
	perr := p.Execute(AllModels(), func(*credential.Credential) *AttemptFailure {
		t.Fatal("dead credential selected")
		return nil
	})
	require.NotNil(t, perr)
	assert.Equal(t, http.StatusServiceUnavailable, perr.StatusCode)
}

func TestModelScopeOnlyBlocksThatModel(t *testing.T) {
	p := New("claude", NewSnapshot([]*credential.Credential{apiKeyCred(1, 1)}, nil), nil)
	p.ApplyMark(1, Transient(ForModel("claude-opus-4-5"), time.Hour, "429"))

	perr := p.Execute(ForModel("claude-opus-4-5"), func(*credential.Credential) *AttemptFailure { return nil })
	assert.NotNil(t, perr)

	perr = p.Execute(ForModel("claude-sonnet-4-5"), func(*credential.Credential) *AttemptFailure { return nil })
	assert.Nil(t, perr)
}

func TestNewerMarkSupersedes(t *testing.T) {
	p := New("claude", NewSnapshot([]*credential.Credential{apiKeyCred(1, 1)}, nil), nil)
	p.ApplyMark(1, Dead(AllModels(), "dead"))
	p.ApplyMark(1, Transient(AllModels(), time.Millisecond, "transient"))
	time.Sleep(5 * time.Millisecond)
	perr := p.Execute(AllModels(), func(*credential.Credential) *AttemptFailure { return nil })
	assert.Nil(t, perr, "transient mark superseded the dead one and expired")
}

func TestExecuteForIDNeverRotates(t *testing.T) {
	p := New("claude", NewSnapshot([]*credential.Credential{
		apiKeyCred(1, 1), apiKeyCred(2, 1),
	}, nil), nil)

	calls := 0
	perr := p.ExecuteForID(1, AllModels(), func(c *credential.Credential) *AttemptFailure {
		calls++
		assert.EqualValues(t, 1, c.ID)
		return &AttemptFailure{
			Passthrough: Synthesize(http.StatusInternalServerError, "boom"),
			Mark:        Transient(AllModels(), time.Minute, "5xx"),
		}
	})
	require.NotNil(t, perr)
	assert.Equal(t, 1, calls)

	perr = p.ExecuteForID(99, AllModels(), func(*credential.Credential) *AttemptFailure { return nil })
	require.NotNil(t, perr)
	assert.Equal(t, http.StatusNotFound, perr.StatusCode)
}

func TestSnapshotReplaceIsWholesale(t *testing.T) {
	p := New("claude", NewSnapshot([]*credential.Credential{apiKeyCred(1, 1)}, nil), nil)
	p.ReplaceSnapshot(NewSnapshot([]*credential.Credential{apiKeyCred(7, 2)}, nil))
	creds := p.Snapshot().Credentials()
	require.Len(t, creds, 1)
	assert.EqualValues(t, 7, creds[0].ID)
}
