package shares

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShare(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		alias    string
		local    string
		excluded bool
		wantErr  bool
	}{
		{
			name:  "plain path defaults alias to last element",
			raw:   "/srv/music",
			alias: "music",
			local: "/srv/music",
		},
		{
			name:  "aliased path",
			raw:   "[tunes]/srv/music",
			alias: "tunes",
			local: "/srv/music",
		},
		{
			name:     "bang prefix excludes",
			raw:      "!/srv/music/private",
			alias:    "private",
			local:    "/srv/music/private",
			excluded: true,
		},
		{
			name:     "dash prefix excludes",
			raw:      "-[secrets]/srv/music/private",
			alias:    "secrets",
			local:    "/srv/music/private",
			excluded: true,
		},
		{
			name:    "empty definition",
			raw:     "   ",
			wantErr: true,
		},
		{
			name:    "unterminated alias",
			raw:     "[tunes/srv/music",
			wantErr: true,
		},
		{
			name:    "alias only",
			raw:     "[tunes]",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseShare(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidShare)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.alias, s.Alias)
			assert.Equal(t, filepath.Clean(tt.local), s.LocalPath)
			assert.Equal(t, tt.alias, s.RemotePath)
			assert.Equal(t, tt.excluded, s.Excluded)
		})
	}
}

func TestShareMask(t *testing.T) {
	s := Share{Alias: "music", LocalPath: "/srv/music", RemotePath: "music"}

	masked, ok := s.Mask("/srv/music/albums/one.flac")
	require.True(t, ok)
	assert.Equal(t, "music/albums/one.flac", masked)

	masked, ok = s.Mask("/srv/music")
	require.True(t, ok)
	assert.Equal(t, "music", masked)

	_, ok = s.Mask("/srv/movies/a.mkv")
	assert.False(t, ok)

	// A sibling sharing the prefix characters is not under the share.
	_, ok = s.Mask("/srv/music2/a.flac")
	assert.False(t, ok)
}

func TestContainsMasked(t *testing.T) {
	s := Share{RemotePath: "music"}

	assert.True(t, s.ContainsMasked("music"))
	assert.True(t, s.ContainsMasked("music/albums/one.flac"))
	assert.False(t, s.ContainsMasked("music2/one.flac"))
	assert.False(t, s.ContainsMasked("movies/one.mkv"))
}

func TestValidateShares(t *testing.T) {
	err := validateShares([]Share{
		{Alias: "a", LocalPath: "/srv/a", RemotePath: "shared"},
		{Alias: "b", LocalPath: "/srv/b", RemotePath: "shared"},
	})
	require.ErrorIs(t, err, ErrInvalidShare)

	// Excluded shares do not participate in uniqueness.
	err = validateShares([]Share{
		{Alias: "a", LocalPath: "/srv/a", RemotePath: "shared"},
		{Alias: "b", LocalPath: "/srv/b", RemotePath: "shared", Excluded: true},
	})
	require.NoError(t, err)
}
