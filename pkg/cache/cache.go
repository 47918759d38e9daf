package cache

import (
	"time"

	"github.com/plgd-dev/go-coap-light/pkg/sync"
)

type Element[T any] struct {
	validUntil time.Time
	data       T
	onExpire   func(d T)
}

// NewElement creates element that can be stored in the cache. A zero validUntil never expires.
func NewElement[T any](data T, validUntil time.Time, onExpire func(d T)) *Element[T] {
	if onExpire == nil {
		onExpire = func(T) {
			// NO-OP as default
		}
	}
	return &Element[T]{data: data, validUntil: validUntil, onExpire: onExpire}
}

func (e *Element[T]) IsExpired(now time.Time) bool {
	if e.validUntil.IsZero() {
		return false
	}
	return now.After(e.validUntil)
}

func (e *Element[T]) Data() T {
	return e.data
}

// Expire invokes the onExpire function of the element.
func (e *Element[T]) Expire() {
	e.onExpire(e.data)
}

type Cache[K comparable, V any] struct {
	data *sync.Map[K, *Element[V]]
}

// NewCache creates a new cache backed by a synchronized map.
func NewCache[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{
		data: sync.NewMap[K, *Element[V]](),
	}
}

// Store stores the element for key and returns the replaced element, if any.
// The replaced element is not expired.
func (c *Cache[K, V]) Store(key K, e *Element[V]) (replaced *Element[V], loaded bool) {
	return c.data.Swap(key, e)
}

// Load loads unexpired element with given key from cache.
//
// If an element for key is not found then (nil, false) is returned.
// If an element for key is found but the element is expired then (nil, true) is returned.
// If an unexpired element for key is found then (*Element, true) is returned.
func (c *Cache[K, V]) Load(key K) (element *Element[V], loaded bool) {
	a, loaded := c.data.Load(key)
	if !loaded {
		return nil, false
	}
	if a.IsExpired(time.Now()) {
		return nil, true
	}
	return a, true
}

// PullOut removes the element for key and returns it, expired or not.
func (c *Cache[K, V]) PullOut(key K) (*Element[V], bool) {
	return c.data.PullOut(key)
}

// Delete removes the element for given key from the cache.
func (c *Cache[K, V]) Delete(key K) (deleted bool) {
	return c.data.Delete(key)
}

// Range iterates over a snapshot of the elements.
func (c *Cache[K, V]) Range(f func(key K, e *Element[V]) bool) {
	c.data.Range(f)
}

// Length returns the number of stored elements including not yet collected expired ones.
func (c *Cache[K, V]) Length() int {
	return c.data.Length()
}

// PullOutExpired removes the elements expired at now and returns them
// without invoking their onExpire functions.
func (c *Cache[K, V]) PullOutExpired(now time.Time) []*Element[V] {
	var expired []*Element[V]
	c.data.Range(func(key K, e *Element[V]) bool {
		if !e.IsExpired(now) {
			return true
		}
		// another goroutine may have replaced the element in the meantime
		if removed, ok := c.data.PullOut(key); ok {
			if removed != e {
				c.data.Store(key, removed)
				return true
			}
			expired = append(expired, e)
		}
		return true
	})
	return expired
}

// CheckExpirations deletes expired elements from the cache and invokes their onExpire functions.
func (c *Cache[K, V]) CheckExpirations(now time.Time) {
	for _, e := range c.PullOutExpired(now) {
		e.Expire()
	}
}

// PullOutAll removes all elements from the cache and returns them in a map.
func (c *Cache[K, V]) PullOutAll() map[K]V {
	res := make(map[K]V)
	for key, value := range c.data.PullOutAll() {
		res[key] = value.Data()
	}
	return res
}
