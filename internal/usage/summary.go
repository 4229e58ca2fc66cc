// Package usage extracts token usage and output samples from streamed
// provider events. Accumulators are per-request and never shared.
package usage

// Summary holds the token counts a provider reported for one request.
// Nil fields were never reported.
type Summary struct {
	InputTokens         *int64 `json:"input_tokens,omitempty"`
	OutputTokens        *int64 `json:"output_tokens,omitempty"`
	CacheReadTokens     *int64 `json:"cache_read_input_tokens,omitempty"`
	CacheCreationTokens *int64 `json:"cache_creation_input_tokens,omitempty"`
}

// Merge folds other into s. Non-nil incoming fields overwrite; nil fields
// never clear an already reported value.
func (s *Summary) Merge(other Summary) {
	if other.InputTokens != nil {
		s.InputTokens = other.InputTokens
	}
	if other.OutputTokens != nil {
		s.OutputTokens = other.OutputTokens
	}
	if other.CacheReadTokens != nil {
		s.CacheReadTokens = other.CacheReadTokens
	}
	if other.CacheCreationTokens != nil {
		s.CacheCreationTokens = other.CacheCreationTokens
	}
}

// IsZero reports whether no field has ever been set.
func (s *Summary) IsZero() bool {
	return s.InputTokens == nil && s.OutputTokens == nil &&
		s.CacheReadTokens == nil && s.CacheCreationTokens == nil
}

// Input returns the reported input token count or 0.
func (s *Summary) Input() int64 {
	if s.InputTokens == nil {
		return 0
	}
	return *s.InputTokens
}

// Output returns the reported output token count or 0.
func (s *Summary) Output() int64 {
	if s.OutputTokens == nil {
		return 0
	}
	return *s.OutputTokens
}

func ptr(v int64) *int64 { return &v }
