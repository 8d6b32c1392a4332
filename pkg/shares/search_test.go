package shares

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildMatch(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
		ok    bool
	}{
		{
			name:  "single term",
			query: "mozart",
			want:  `("mozart")`,
			ok:    true,
		},
		{
			name:  "multiple terms are conjunctive",
			query: "mozart requiem",
			want:  `("mozart" AND "requiem")`,
			ok:    true,
		},
		{
			name:  "negative terms are excluded",
			query: "mozart -live -remix",
			want:  `("mozart") NOT ("live" OR "remix")`,
			ok:    true,
		},
		{
			name:  "path separators and colons become spaces",
			query: `albums/mozart\requiem:1791`,
			want:  `("albums" AND "mozart" AND "requiem" AND "1791")`,
			ok:    true,
		},
		{
			name:  "quotes are stripped",
			query: `"mozart"`,
			want:  `("mozart")`,
			ok:    true,
		},
		{
			name:  "bare dash is a literal token",
			query: "mozart -",
			want:  `("mozart" AND "-")`,
			ok:    true,
		},
		{
			name:  "only exclusions yields no query",
			query: "-live",
			ok:    false,
		},
		{
			name:  "empty query",
			query: "   ",
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, ok := buildMatch(tt.query)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, match)
		})
	}
}
