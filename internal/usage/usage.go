// Package usage normalizes and aggregates token-usage counters across
// model calls. Providers report usage under inconsistent field names
// and nestings; Pick folds every known variant into one canonical
// Snapshot so the rest of the pipeline sees a single shape.
package usage

// Snapshot holds the token counters for one model call. Nil fields mean
// the provider did not report that counter, distinguishable from an
// explicit zero.
type Snapshot struct {
	InputTokens  *int `json:"inputTokens,omitempty"`
	OutputTokens *int `json:"outputTokens,omitempty"`
	CachedTokens *int `json:"cachedTokens,omitempty"`
	TotalTokens  *int `json:"totalTokens,omitempty"`
}

// Totals is a Snapshot summed across all calls belonging to one run.
// It is defined (all zeros) even for a run that made no model calls.
type Totals struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	CachedTokens int `json:"cachedTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// Field name variants observed across providers and API versions.
var (
	inputKeys  = []string{"input_tokens", "inputTokens", "prompt_tokens", "promptTokens"}
	outputKeys = []string{"output_tokens", "outputTokens", "completion_tokens", "completionTokens"}
	cachedKeys = []string{"cache_read_input_tokens", "cached_tokens", "cachedTokens"}
	totalKeys  = []string{"total_tokens", "totalTokens"}

	// Cached-token counts also appear nested one level down.
	cachedNests = []string{"input_token_details", "prompt_tokens_details", "usage_details"}
)

// Pick extracts a canonical Snapshot from a raw provider usage object.
// Unresolved fields stay nil rather than zero, so an all-missing
// snapshot is distinguishable from exact-zero usage. Negative values
// are treated as missing.
func Pick(raw map[string]any) Snapshot {
	if raw == nil {
		return Snapshot{}
	}

	snap := Snapshot{
		InputTokens:  firstInt(raw, inputKeys),
		OutputTokens: firstInt(raw, outputKeys),
		CachedTokens: firstInt(raw, cachedKeys),
		TotalTokens:  firstInt(raw, totalKeys),
	}

	if snap.CachedTokens == nil {
		for _, nest := range cachedNests {
			sub, ok := raw[nest].(map[string]any)
			if !ok {
				continue
			}
			if n := firstInt(sub, cachedKeys); n != nil {
				snap.CachedTokens = n
				break
			}
		}
	}

	return snap
}

// Aggregate sums snapshots into run totals. Nil fields contribute zero.
// The sum is pure and order-independent: aggregating in any order, or
// aggregating partial results, yields the same totals.
func Aggregate(snaps []Snapshot) Totals {
	var t Totals
	for _, s := range snaps {
		t.InputTokens += deref(s.InputTokens)
		t.OutputTokens += deref(s.OutputTokens)
		t.CachedTokens += deref(s.CachedTokens)
		t.TotalTokens += deref(s.TotalTokens)
	}
	return t
}

// firstInt returns the first key present in raw that holds a
// non-negative integer value.
func firstInt(raw map[string]any, keys []string) *int {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		n, ok := asInt(v)
		if !ok || n < 0 {
			continue
		}
		return &n
	}
	return nil
}

// asInt accepts the numeric shapes JSON decoding produces. Fractional
// values are not token counts and are rejected.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
