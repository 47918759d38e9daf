package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreElement(t *testing.T) {
	cache := NewCache[string, string]()

	_, loaded := cache.Store("abcd", NewElement("elem", time.Now().Add(time.Minute), nil))
	require.False(t, loaded)

	replaced, loaded := cache.Store("abcd", NewElement("elem2", time.Now().Add(time.Minute), nil))
	require.True(t, loaded)
	require.Equal(t, "elem", replaced.Data())

	e, loaded := cache.Load("abcd")
	require.True(t, loaded)
	require.Equal(t, "elem2", e.Data())
	require.Equal(t, 1, cache.Length())
}

func TestLoadElement(t *testing.T) {
	cache := NewCache[string, string]()

	e, loaded := cache.Load("abcd")
	require.Nil(t, e)
	require.False(t, loaded)

	cache.Store("expired", NewElement("x", time.Now().Add(-time.Second), nil))
	e, loaded = cache.Load("expired")
	require.Nil(t, e)
	require.True(t, loaded)

	cache.Store("forever", NewElement("y", time.Time{}, nil))
	e, loaded = cache.Load("forever")
	require.True(t, loaded)
	require.Equal(t, "y", e.Data())
}

func TestPullOutElement(t *testing.T) {
	cache := NewCache[string, string]()
	cache.Store("abcd", NewElement("elem", time.Time{}, nil))

	e, ok := cache.PullOut("abcd")
	require.True(t, ok)
	require.Equal(t, "elem", e.Data())
	_, ok = cache.PullOut("abcd")
	require.False(t, ok)
	require.False(t, cache.Delete("abcd"))
}

func TestCheckExpirations(t *testing.T) {
	cache := NewCache[string, string]()
	now := time.Now()
	var expired []string
	onExpire := func(d string) {
		expired = append(expired, d)
	}
	cache.Store("a", NewElement("a", now.Add(time.Second), onExpire))
	cache.Store("b", NewElement("b", now.Add(time.Hour), onExpire))
	cache.Store("c", NewElement("c", time.Time{}, onExpire))

	cache.CheckExpirations(now)
	require.Empty(t, expired)

	cache.CheckExpirations(now.Add(2 * time.Second))
	require.Equal(t, []string{"a"}, expired)
	require.Equal(t, 2, cache.Length())

	all := cache.PullOutAll()
	require.Equal(t, map[string]string{"b": "b", "c": "c"}, all)
	require.Equal(t, 0, cache.Length())
}

func TestPullOutExpired(t *testing.T) {
	cache := NewCache[string, string]()
	now := time.Now()
	called := 0
	onExpire := func(string) {
		called++
	}
	cache.Store("a", NewElement("a", now.Add(-time.Second), onExpire))
	cache.Store("b", NewElement("b", now.Add(time.Hour), onExpire))

	expired := cache.PullOutExpired(now)
	require.Len(t, expired, 1)
	require.Equal(t, "a", expired[0].Data())
	require.Equal(t, 0, called)
	require.Equal(t, 1, cache.Length())
	require.Empty(t, cache.PullOutExpired(now))
}
