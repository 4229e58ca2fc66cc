package pool

import "time"

// ScopeKind distinguishes all-model marks from single-model marks.
type ScopeKind int

const (
	ScopeAllModels ScopeKind = iota
	ScopeModel
)

// Scope bounds a disallow mark to every operation or to one model name.
type Scope struct {
	Kind  ScopeKind
	Model string
}

// AllModels covers every operation of a credential.
func AllModels() Scope { return Scope{Kind: ScopeAllModels} }

// ForModel covers exact-match model only.
func ForModel(model string) Scope { return Scope{Kind: ScopeModel, Model: model} }

func (s Scope) String() string {
	if s.Kind == ScopeAllModels {
		return "all"
	}
	return "model:" + s.Model
}

// Level is the severity of a disallow mark.
type Level int

const (
	// LevelTransient marks expire at their until timestamp.
	LevelTransient Level = iota
	// LevelDead marks never expire.
	LevelDead
)

func (l Level) String() string {
	if l == LevelDead {
		return "dead"
	}
	return "transient"
}

// Mark is a request to remove a credential from selection.
type Mark struct {
	Scope    Scope
	Level    Level
	Duration time.Duration // Transient only; Dead marks have no expiry
	Reason   string
}

// Transient builds a mark that expires after d.
func Transient(scope Scope, d time.Duration, reason string) *Mark {
	return &Mark{Scope: scope, Level: LevelTransient, Duration: d, Reason: reason}
}

// Dead builds a permanent mark.
func Dead(scope Scope, reason string) *Mark {
	return &Mark{Scope: scope, Level: LevelDead, Reason: reason}
}

// disallowKey identifies the single active mark per (credential, scope).
type disallowKey struct {
	credentialID int64
	scope        Scope
}

// DisallowEntry is one active mark inside a pool snapshot.
type DisallowEntry struct {
	Level     Level
	Until     time.Time // zero for Dead
	Reason    string
	UpdatedAt time.Time
}

// Active reports whether the entry still blocks selection at now.
func (e DisallowEntry) Active(now time.Time) bool {
	if e.Level == LevelDead || e.Until.IsZero() {
		return e.Level == LevelDead
	}
	return e.Until.After(now)
}

// Record is the durable form of a mark, forwarded to the state sink.
type Record struct {
	Provider     string
	CredentialID int64
	Scope        Scope
	Level        Level
	Until        time.Time
	Reason       string
	UpdatedAt    time.Time
}

// StateSink receives disallow records asynchronously for persistence.
type StateSink interface {
	SubmitDisallow(record Record)
}
