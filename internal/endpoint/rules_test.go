package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRulesGetInclude(t *testing.T) {
	r := NewRules([]string{"files/d1", "/files/f1/", "files"}, nil)

	inc, ok := r.GetInclude("files/d1/f1")
	assert.True(t, ok)
	assert.Equal(t, "files/d1", inc)

	inc, ok = r.GetInclude("files/f1")
	assert.True(t, ok)
	assert.Equal(t, "files/f1", inc)

	inc, ok = r.GetInclude("files/d2/f1")
	assert.True(t, ok)
	assert.Equal(t, "files", inc)

	_, ok = r.GetInclude("filesystem/f1")
	assert.False(t, ok)
	_, ok = r.GetInclude("other")
	assert.False(t, ok)
}

func TestRulesDefaultInclude(t *testing.T) {
	r := NewRules(nil, nil)
	assert.Equal(t, []string{""}, r.Includes())

	inc, ok := r.GetInclude("anything/at/all")
	assert.True(t, ok)
	assert.Equal(t, "", inc)
}

func TestRulesIsExcluded(t *testing.T) {
	r := NewRules(nil, []string{"files/d2/f1", "tmp", "**/*.log", "cache/{a,b}"})

	tests := []struct {
		key      string
		excluded bool
	}{
		{"files/d2/f1", true},
		{"files/d2/f10", true}, // prefix match
		{"files/d2/f2", false},
		{"tmp/x", true},
		{"tmpfile", true},
		{"logs/app.log", true},
		{"app.log", true},
		{"logs/app.txt", false},
		{"cache/a/x", true}, // parent directory matches the glob
		{"cache/c/x", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.excluded, r.IsExcluded(tt.key))
		})
	}
}

func TestRulesInScope(t *testing.T) {
	r := NewRules([]string{"files"}, []string{"files/skip"})
	assert.True(t, r.InScope("files/f1"))
	assert.False(t, r.InScope("files/skip/f1"))
	assert.False(t, r.InScope("other/f1"))
	assert.False(t, r.InScope(""))
}

func TestIsTempKey(t *testing.T) {
	assert.True(t, IsTempKey("d1/.f1"+TempMarker+"12345"))
	assert.False(t, IsTempKey("d1/f1"))
}
