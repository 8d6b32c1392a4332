//go:build integration

package shares

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeTree builds a share root on disk:
//
//	root/
//	  albums/one.flac
//	  albums/two.mp3
//	  empty/
//	  .hidden/secret.flac
//	  private/secret.mp3
func makeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	for _, dir := range []string{"albums", "empty", ".hidden", "private"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0755))
	}
	for _, file := range []string{
		"albums/one.flac",
		"albums/two.mp3",
		".hidden/secret.flac",
		"private/secret.mp3",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(root, file), []byte("audio"), 0644))
	}
	return root
}

func createTestCache(t *testing.T, config Config) *Cache {
	t.Helper()
	config.Storage.Mode = StorageMemory
	if config.Storage.Dir == "" {
		config.Storage.Dir = t.TempDir()
	}
	if config.Workers == 0 {
		config.Workers = 2
	}

	cache, err := NewCache(config, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func musicConfig(root string) Config {
	return Config{
		Shares: []Share{
			{ID: "music", Alias: "music", LocalPath: root, RemotePath: "music"},
			{ID: "private", Alias: "private", LocalPath: filepath.Join(root, "private"), RemotePath: "private", Excluded: true},
		},
	}
}

func TestFillResolveRoundTrip(t *testing.T) {
	root := makeTree(t)
	cache := createTestCache(t, musicConfig(root))

	require.NoError(t, cache.Fill(context.Background()))

	st := cache.Monitor().Get()
	assert.True(t, st.Filled)
	assert.False(t, st.Filling)
	assert.Equal(t, 1.0, st.Progress)
	assert.Equal(t, 2, st.Files)
	assert.False(t, st.ScannedAt.IsZero())

	// Hidden and excluded subtrees never reach the index.
	assert.GreaterOrEqual(t, st.ExcludedDirectories, 2)

	host, original, err := cache.Resolve(context.Background(), "music/albums/one.flac")
	require.NoError(t, err)
	assert.Empty(t, host)
	assert.Equal(t, filepath.Join(root, "albums", "one.flac"), original)

	_, _, err = cache.Resolve(context.Background(), "music/.hidden/secret.flac")
	assert.ErrorIs(t, err, ErrNotShared)

	_, _, err = cache.Resolve(context.Background(), "music/private/secret.mp3")
	assert.ErrorIs(t, err, ErrNotShared)

	count, err := cache.CountFiles("")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestFillAppliesFilters(t *testing.T) {
	root := makeTree(t)
	config := musicConfig(root)
	config.Filters = []string{`\.mp3$`}
	cache := createTestCache(t, config)

	require.NoError(t, cache.Fill(context.Background()))

	count, err := cache.CountFiles("")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, _, err = cache.Resolve(context.Background(), "music/albums/two.mp3")
	assert.ErrorIs(t, err, ErrNotShared)
}

func TestSearch(t *testing.T) {
	root := makeTree(t)
	cache := createTestCache(t, musicConfig(root))
	require.NoError(t, cache.Fill(context.Background()))

	files, err := cache.Search(context.Background(), "one")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "music/albums/one.flac", files[0].MaskedFilename)

	// Conjunction across tokens, exclusion with a leading dash.
	files, err = cache.Search(context.Background(), "albums -two")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "music/albums/one.flac", files[0].MaskedFilename)

	// No positive terms means no results, not an error.
	files, err = cache.Search(context.Background(), "-albums")
	require.NoError(t, err)
	assert.Empty(t, files)

	files, err = cache.Search(context.Background(), "nosuchthing")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestBrowseIncludesEmptyDirectories(t *testing.T) {
	root := makeTree(t)
	cache := createTestCache(t, musicConfig(root))
	require.NoError(t, cache.Fill(context.Background()))

	tree, err := cache.Browse(context.Background(), "")
	require.NoError(t, err)

	byName := map[string]BrowseDirectory{}
	for _, dir := range tree {
		byName[dir.Name] = dir
	}

	require.Contains(t, byName, "music/empty")
	assert.Empty(t, byName["music/empty"].Files)

	require.Contains(t, byName, "music/albums")
	assert.Len(t, byName["music/albums"].Files, 2)

	assert.NotContains(t, byName, "music/.hidden")
	assert.NotContains(t, byName, "music/private")
}

func TestListDirectory(t *testing.T) {
	root := makeTree(t)
	cache := createTestCache(t, musicConfig(root))
	require.NoError(t, cache.Fill(context.Background()))

	dir, err := cache.ListDirectory(context.Background(), "music/albums")
	require.NoError(t, err)
	assert.Len(t, dir.Files, 2)

	_, err = cache.ListDirectory(context.Background(), "music/nope")
	assert.ErrorIs(t, err, ErrDirectoryNotFound)
}

func TestRescanSweepsDeletedFiles(t *testing.T) {
	root := makeTree(t)
	cache := createTestCache(t, musicConfig(root))
	require.NoError(t, cache.Fill(context.Background()))

	require.NoError(t, os.Remove(filepath.Join(root, "albums", "two.mp3")))
	require.NoError(t, os.RemoveAll(filepath.Join(root, "empty")))

	require.NoError(t, cache.Fill(context.Background()))

	count, err := cache.CountFiles("")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, _, err = cache.Resolve(context.Background(), "music/albums/two.mp3")
	assert.ErrorIs(t, err, ErrNotShared)

	dirs, err := cache.CountDirectories("")
	require.NoError(t, err)
	assert.Equal(t, 2, dirs) // music, music/albums
}

func TestCancelledFillPreservesIndex(t *testing.T) {
	root := makeTree(t)
	cache := createTestCache(t, musicConfig(root))
	require.NoError(t, cache.Fill(context.Background()))

	filesBefore, err := cache.CountFiles("")
	require.NoError(t, err)
	dirsBefore, err := cache.CountDirectories("")
	require.NoError(t, err)

	// The next scan would tombstone this file, but cancellation must skip
	// the sweep entirely.
	require.NoError(t, os.Remove(filepath.Join(root, "albums", "two.mp3")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = cache.Fill(ctx)
	require.ErrorIs(t, err, context.Canceled)

	st := cache.Monitor().Get()
	assert.True(t, st.Cancelled)
	assert.False(t, st.Filled)
	assert.False(t, st.Filling)

	filesAfter, err := cache.CountFiles("")
	require.NoError(t, err)
	dirsAfter, err := cache.CountDirectories("")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, filesAfter, filesBefore)
	assert.GreaterOrEqual(t, dirsAfter, dirsBefore)
}

func TestFillSingleWriter(t *testing.T) {
	root := makeTree(t)
	cache := createTestCache(t, musicConfig(root))

	cache.fillMu.Lock()
	err := cache.Fill(context.Background())
	cache.fillMu.Unlock()

	assert.ErrorIs(t, err, ErrScanInProgress)
}

func TestTryCancelFill(t *testing.T) {
	root := makeTree(t)
	cache := createTestCache(t, musicConfig(root))

	// Nothing running.
	assert.False(t, cache.TryCancelFill())

	require.NoError(t, cache.Fill(context.Background()))
	assert.False(t, cache.TryCancelFill())
}

func TestTryLoadRestoresFromBackup(t *testing.T) {
	root := makeTree(t)
	dir := t.TempDir()

	config := musicConfig(root)
	config.Storage = StorageConfig{Mode: StorageDisk, Dir: dir}
	config.Workers = 2

	cache, err := NewCache(config, nil)
	require.NoError(t, err)
	require.NoError(t, cache.Fill(context.Background()))
	require.NoError(t, cache.Close())

	// Simulate a lost live database; only the backup survives.
	for _, suffix := range []string{"", "-wal", "-shm"} {
		os.Remove(filepath.Join(dir, "shares.db"+suffix))
	}

	restored, err := NewCache(config, nil)
	require.NoError(t, err)
	defer restored.Close()

	loaded, err := restored.TryLoad()
	require.NoError(t, err)
	require.True(t, loaded)

	st := restored.Monitor().Get()
	assert.True(t, st.Filled)
	assert.Equal(t, 2, st.Files)

	host, original, err := restored.Resolve(context.Background(), "music/albums/one.flac")
	require.NoError(t, err)
	assert.Empty(t, host)
	assert.Equal(t, filepath.Join(root, "albums", "one.flac"), original)
}

func TestTryLoadWithoutBackup(t *testing.T) {
	root := makeTree(t)
	config := musicConfig(root)
	config.Storage = StorageConfig{Mode: StorageDisk, Dir: t.TempDir()}
	config.Workers = 2

	cache, err := NewCache(config, nil)
	require.NoError(t, err)
	defer cache.Close()

	loaded, err := cache.TryLoad()
	require.NoError(t, err)
	assert.False(t, loaded)
}

func TestAgentShareResolution(t *testing.T) {
	root := makeTree(t)
	config := musicConfig(root)
	config.Shares = append(config.Shares, Share{
		ID: "remote", Alias: "remote", LocalPath: "/srv/remote", RemotePath: "remote", Agent: "agent-1",
	})
	cache := createTestCache(t, config)
	require.NoError(t, cache.Fill(context.Background()))

	// Agent share rows arrive from the agent, not the local scan; seed one
	// directly to exercise host resolution.
	require.NoError(t, cache.db.upsertFile(&File{
		MaskedFilename:   "remote/album/far.flac",
		OriginalFilename: "/srv/remote/album/far.flac",
		Size:             10,
		AttributeJSON:    "[]",
		Timestamp:        1,
	}))

	host, original, err := cache.Resolve(context.Background(), "remote/album/far.flac")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", host)
	assert.Equal(t, "/srv/remote/album/far.flac", original)
}

func TestPrefixNarrowingTreatsWildcardsLiterally(t *testing.T) {
	root := makeTree(t)
	cache := createTestCache(t, musicConfig(root))

	// Aliases may carry LIKE metacharacters; a prefix of my_music must not
	// also pick up myxmusic rows.
	for _, f := range []string{"my_music/a.flac", "myxmusic/b.flac", "my%music/c.flac"} {
		require.NoError(t, cache.db.upsertFile(&File{
			MaskedFilename:   f,
			OriginalFilename: "/srv/" + f,
			Size:             1,
			AttributeJSON:    "[]",
			Timestamp:        1,
		}))
	}
	for _, d := range []string{"my_music", "my_music/sub", "myxmusic", "myxmusic/sub"} {
		require.NoError(t, cache.db.insertDirectory(d, 1))
	}

	count, err := cache.CountFiles("my_music")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = cache.CountFiles("my%music")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = cache.CountDirectories("my_music")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "the prefix covers the directory and its subtree only")

	dirs, err := cache.db.directories("my_music")
	require.NoError(t, err)
	assert.Equal(t, []string{"my_music", "my_music/sub"}, dirs)
}
