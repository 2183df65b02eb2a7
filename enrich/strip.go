package enrich

// Strip removes null values, empty strings, empty lists and empty objects
// from a document, at every level. Lists and objects, which become empty by
// stripping, are removed as well.
func Strip(doc map[string]any) map[string]any {
	result, _ := stripValue(doc).(map[string]any)
	if result == nil {
		return map[string]any{}
	}
	return result
}

func stripValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		return t
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			if s := stripValue(e); s != nil {
				m[k] = s
			}
		}
		if len(m) == 0 {
			return nil
		}
		return m
	case []any:
		var s []any
		for _, e := range t {
			if x := stripValue(e); x != nil {
				s = append(s, x)
			}
		}
		if len(s) == 0 {
			return nil
		}
		return s
	case []string:
		var s []any
		for _, e := range t {
			if e != "" {
				s = append(s, e)
			}
		}
		if len(s) == 0 {
			return nil
		}
		return s
	case []map[string]any:
		var s []any
		for _, e := range t {
			if x := stripValue(e); x != nil {
				s = append(s, x)
			}
		}
		if len(s) == 0 {
			return nil
		}
		return s
	default:
		return v
	}
}
