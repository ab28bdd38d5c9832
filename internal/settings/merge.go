package settings

import "time"

// mergePageConfigs combines the per-page config maps from the stored and
// incoming documents. When both carry a timestamped config for the same
// page, the strictly newer updated_at wins and a tie keeps the stored one.
// A config whose timestamp is absent or unparseable loses to a timestamped
// stored config; anything that is not an object replaces the stored entry
// outright.
func mergePageConfigs(stored, incoming any) map[string]any {
	cur := asMap(stored)
	inc := asMap(incoming)

	merged := make(map[string]any, len(cur)+len(inc))
	for page, cfg := range cur {
		merged[page] = cfg
	}
	for page, next := range inc {
		prev, exists := merged[page]
		if !exists {
			merged[page] = next
			continue
		}
		nextCfg, nextIsMap := next.(map[string]any)
		prevCfg, prevIsMap := prev.(map[string]any)
		if !nextIsMap || !prevIsMap {
			merged[page] = next
			continue
		}

		prevTS, prevOK := updatedAt(prevCfg)
		nextTS, nextOK := updatedAt(nextCfg)
		switch {
		case prevOK && nextOK:
			if nextTS.After(prevTS) {
				merged[page] = next
			}
		case prevOK:
			// Only the stored config is timestamped; keep it.
		default:
			merged[page] = next
		}
	}
	return merged
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func updatedAt(cfg map[string]any) (time.Time, bool) {
	raw, ok := cfg["updated_at"].(string)
	if !ok {
		return time.Time{}, false
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
