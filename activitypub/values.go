package activitypub

import (
	"time"
)

// Compacted JSON-LD may carry any property as a scalar, an array or an
// embedded object. These readers accept all three.

func str(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}:
		if id, ok := t["id"].(string); ok {
			return id
		}
		if href, ok := t["href"].(string); ok {
			return href
		}
	case []interface{}:
		for _, item := range t {
			if s := str(item); s != "" {
				return s
			}
		}
	}
	return ""
}

func strs(v interface{}) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := str(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := str(t); s != "" {
			return []string{s}
		}
	}
	return nil
}

// text reads natural language values, including {"@value": ..} forms.
func text(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}:
		if s, ok := t["@value"].(string); ok {
			return s
		}
	case []interface{}:
		for _, item := range t {
			if s := text(item); s != "" {
				return s
			}
		}
	}
	return ""
}

func obj(v interface{}) map[string]interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return t
	case []interface{}:
		for _, item := range t {
			if m, ok := item.(map[string]interface{}); ok {
				return m
			}
		}
	}
	return nil
}

func objs(v interface{}) []map[string]interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return []map[string]interface{}{t}
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func number(v interface{}) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case map[string]interface{}:
		return number(t["@value"])
	}
	return 0
}

func timestamp(v interface{}) *time.Time {
	s := text(v)
	if s == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &parsed
}

// IsPublic matches the public collection in all of its compacted spellings.
func IsPublic(uri string) bool {
	return uri == PublicCollection || uri == "as:Public" || uri == "Public"
}

func containsPublic(uris ...[]string) bool {
	for _, list := range uris {
		for _, u := range list {
			if IsPublic(u) {
				return true
			}
		}
	}
	return false
}

// canonicalAudience rewrites compacted public markers to the full IRI.
func canonicalAudience(uris []string) []string {
	out := make([]string, 0, len(uris))
	for _, u := range uris {
		if IsPublic(u) {
			u = PublicCollection
		}
		out = append(out, u)
	}
	return out
}
