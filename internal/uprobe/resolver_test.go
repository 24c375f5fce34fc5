package uprobe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindLibraryPathsReturnsInputOrder(t *testing.T) {
	proc := &fakeProc{maps: map[uint32][]string{
		7: {"/lib/libz.so.1", libCryptoPath, libSSLPath},
	}}
	cache, err := newPathCache()
	require.NoError(t, err)

	paths, err := findLibraryPaths([]string{libSSLName, libCryptoName}, 7, proc, &fakeResolver{}, cache)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, libSSLPath, paths[0])
	assert.Equal(t, libCryptoPath, paths[1])
}

func TestFindLibraryPathsMissingLibIsEmpty(t *testing.T) {
	proc := &fakeProc{maps: map[uint32][]string{7: {libSSLPath}}}
	cache, err := newPathCache()
	require.NoError(t, err)

	paths, err := findLibraryPaths([]string{libSSLName, libCryptoName}, 7, proc, &fakeResolver{}, cache)
	require.NoError(t, err)
	assert.Equal(t, libSSLPath, paths[0])
	assert.Empty(t, paths[1])
}

func TestPathCacheGenerationInvalidates(t *testing.T) {
	cache, err := newPathCache()
	require.NoError(t, err)

	cache.set(7, libSSLName, libSSLPath)
	cache.cache.Wait()

	got, ok := cache.get(7, libSSLName)
	require.True(t, ok)
	assert.Equal(t, libSSLPath, got)

	// A resolver refresh bumps the generation; entries from before a
	// mount-table change must not be served after it.
	cache.bumpGeneration()
	_, ok = cache.get(7, libSSLName)
	assert.False(t, ok)
}

func TestBinarySetInsertOnce(t *testing.T) {
	s := newBinarySet()
	assert.True(t, s.Insert("/lib/libssl.so.1.1"))
	assert.False(t, s.Insert("/lib/libssl.so.1.1"))
	assert.True(t, s.Insert("/lib/other.so"))
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains("/lib/libssl.so.1.1"))
	assert.False(t, s.Contains("/lib/unseen.so"))
}

func TestUPIDSetDrainClears(t *testing.T) {
	s := newUPIDSet()
	u := UPID{ASID: 1, PID: 2, StartTimeTicks: 3}
	s.Insert(u)

	drained := s.Drain()
	_, ok := drained[u]
	assert.True(t, ok)
	assert.Empty(t, s.Drain())
}
