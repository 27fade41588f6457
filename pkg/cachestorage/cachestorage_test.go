package cachestorage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCache_IsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.OpenCache("v1"))
	require.NoError(t, s.OpenCache("v1"))

	has, err := s.HasCache("v1")
	require.NoError(t, err)
	require.True(t, has)

	names, err := s.CacheNames()
	require.NoError(t, err)
	require.Equal(t, []string{"v1"}, names)
}

func TestDeleteCache_ReportsPriorExistence(t *testing.T) {
	s := newTestStore(t)
	deleted, err := s.DeleteCache("missing")
	require.NoError(t, err)
	require.False(t, deleted)

	require.NoError(t, s.OpenCache("v1"))
	deleted, err = s.DeleteCache("v1")
	require.NoError(t, err)
	require.True(t, deleted)
}

func TestPutMatch_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	req := CachedRequest{URL: "https://example.com/a", Method: "GET"}
	resp := CachedResponse{Status: 200, StatusText: "OK", Body: []byte("hello"), URL: req.URL}

	require.NoError(t, s.Put("v1", req, resp))

	got, ok, err := s.Match("v1", req)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, resp, got)
}

func TestMatch_MissReportsFalse(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Match("v1", CachedRequest{URL: "https://example.com/nope", Method: "GET"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPut_OverwritesExistingEntry(t *testing.T) {
	s := newTestStore(t)
	req := CachedRequest{URL: "https://example.com/a", Method: "GET"}
	require.NoError(t, s.Put("v1", req, CachedResponse{Status: 200, Body: []byte("first")}))
	require.NoError(t, s.Put("v1", req, CachedResponse{Status: 200, Body: []byte("second")}))

	got, ok, err := s.Match("v1", req)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("second"), got.Body)
}

func TestDeleteEntry_ReportsPriorExistence(t *testing.T) {
	s := newTestStore(t)
	req := CachedRequest{URL: "https://example.com/a", Method: "GET"}
	require.NoError(t, s.Put("v1", req, CachedResponse{Status: 200}))

	deleted, err := s.Delete("v1", req)
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = s.Delete("v1", req)
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestKeys_ListsStoredRequests(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put("v1", CachedRequest{URL: "https://example.com/a", Method: "GET"}, CachedResponse{Status: 200}))
	require.NoError(t, s.Put("v1", CachedRequest{URL: "https://example.com/b", Method: "GET"}, CachedResponse{Status: 200}))

	keys, err := s.Keys("v1")
	require.NoError(t, err)
	require.Len(t, keys, 2)
}

func TestMatchAll_FiltersByURL(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put("v1", CachedRequest{URL: "https://example.com/a", Method: "GET"}, CachedResponse{Status: 200, Body: []byte("get")}))
	require.NoError(t, s.Put("v1", CachedRequest{URL: "https://example.com/a", Method: "HEAD"}, CachedResponse{Status: 200, Body: []byte("head")}))
	require.NoError(t, s.Put("v1", CachedRequest{URL: "https://example.com/b", Method: "GET"}, CachedResponse{Status: 200, Body: []byte("other")}))

	matches, err := s.MatchAll("v1", CachedRequest{URL: "https://example.com/a"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
}

func TestDeleteCache_CascadesEntries(t *testing.T) {
	s := newTestStore(t)
	req := CachedRequest{URL: "https://example.com/a", Method: "GET"}
	require.NoError(t, s.Put("v1", req, CachedResponse{Status: 200}))

	_, err := s.DeleteCache("v1")
	require.NoError(t, err)

	_, ok, err := s.Match("v1", req)
	require.NoError(t, err)
	require.False(t, ok)
}
