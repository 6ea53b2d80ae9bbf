package graph

import (
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/zeebo/blake3"
)

// Fingerprint returns a BLAKE3 digest of the graph's specs. It is stable
// across declaration order and across duplicate dependency entries, so a
// graph rebuilt from a stored record hashes to the value stored with it.
func (g *Graph) Fingerprint() string {
	type canonical struct {
		ID          string         `json:"id"`
		Tool        string         `json:"tool"`
		Description string         `json:"description"`
		Arguments   map[string]any `json:"arguments"`
		Deps        []string       `json:"deps"`
		MaxAttempts int            `json:"max_attempts"`
		Timeout     int64          `json:"timeout"`
	}

	ids := append([]string(nil), g.order...)
	sort.Strings(ids)

	entries := make([]canonical, 0, len(ids))
	for _, id := range ids {
		spec := g.specs[id]
		deps := append([]string(nil), g.deps[id]...)
		sort.Strings(deps)
		entries = append(entries, canonical{
			ID:          id,
			Tool:        spec.ToolName,
			Description: spec.Description,
			Arguments:   spec.Arguments,
			Deps:        deps,
			MaxAttempts: spec.MaxAttempts,
			Timeout:     int64(spec.Timeout),
		})
	}

	// encoding/json sorts map keys, which keeps arguments canonical.
	data, err := json.Marshal(entries)
	if err != nil {
		// Arguments that cannot be marshalled cannot be persisted either;
		// hash the ids alone so callers still get a stable value.
		data, _ = json.Marshal(ids)
	}

	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
