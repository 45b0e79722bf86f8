package catalog

// Merge overlays catalogs in order: release defaults first, then cluster
// overrides, then plugin templates. A later template with an already known id
// replaces the earlier one in place, so declaration order is kept. Parameters
// of the two are deep-merged instead of replaced. The inputs are not modified.
func Merge(sources ...[]*Template) []*Template {
	var result []*Template
	index := make(map[string]int)

	for _, source := range sources {
		for _, t := range source {
			if t == nil {
				continue
			}
			c := t.Clone()
			pos, exists := index[c.ID]
			if !exists {
				index[c.ID] = len(result)
				result = append(result, c)
				continue
			}
			base := result[pos]
			if base.Parameters != nil || c.Parameters != nil {
				c.Parameters = overlayParameters(base.Parameters, c.Parameters)
			}
			result[pos] = c
		}
	}

	return result
}

// overlayParameters returns the parameters of an overriding template laid
// over those of the template it replaces. Nested maps are merged key by
// key, a nil value removes the key, anything else (lists included) is
// taken from the override as is. Neither input is modified.
func overlayParameters(base, override map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		switch {
		case v == nil:
			delete(merged, k)
		case isParamMap(merged[k]) && isParamMap(v):
			prev, _ := toStringMap(merged[k])
			next, _ := toStringMap(v)
			merged[k] = overlayParameters(prev, next)
		default:
			merged[k] = v
		}
	}
	return merged
}

func isParamMap(v interface{}) bool {
	_, ok := toStringMap(v)
	return ok
}

// toStringMap views a decoded parameter value as a string keyed map. Values
// decoded through interface{} keys keep only their string keys.
func toStringMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			if key, ok := k.(string); ok {
				out[key] = val
			}
		}
		return out, true
	}
	return nil, false
}
