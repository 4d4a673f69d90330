package endpoint

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Rules scope the keys an endpoint considers.
//
// A key belongs to include i when i is empty, the key equals i, or the key
// lies below i. Excludes are plain prefixes unless they contain glob
// characters, in which case they match the key or any of its parents.
type Rules struct {
	includes []string
	excludes []string
}

func NewRules(includes, excludes []string) *Rules {
	r := &Rules{}
	for _, inc := range includes {
		inc = strings.Trim(inc, "/")
		if inc == "." {
			inc = ""
		}
		r.includes = append(r.includes, inc)
	}
	if len(r.includes) == 0 {
		r.includes = []string{""}
	}
	for _, exc := range excludes {
		if exc = strings.TrimLeft(exc, "/"); exc != "" {
			r.excludes = append(r.excludes, exc)
		}
	}
	return r
}

func (r *Rules) Includes() []string {
	return r.includes
}

func (r *Rules) Excludes() []string {
	return r.excludes
}

// GetInclude returns the first include matching key.
func (r *Rules) GetInclude(key string) (string, bool) {
	for _, inc := range r.includes {
		if matchesInclude(inc, key) {
			return inc, true
		}
	}
	return "", false
}

func (r *Rules) IsExcluded(key string) bool {
	for _, exc := range r.excludes {
		if isGlob(exc) {
			if matchGlob(exc, key) {
				return true
			}
		} else if strings.HasPrefix(key, exc) {
			return true
		}
	}
	return false
}

// InScope reports whether key is included and not excluded.
func (r *Rules) InScope(key string) bool {
	if key == "" {
		return false
	}
	_, ok := r.GetInclude(key)
	return ok && !r.IsExcluded(key)
}

func matchesInclude(inc, key string) bool {
	return inc == "" || key == inc || strings.HasPrefix(key, inc+"/")
}

func isGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

func matchGlob(pattern, key string) bool {
	for p := key; p != "." && p != "/" && p != ""; p = path.Dir(p) {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}
