package cache

// Loader computes the value for a missing key. Returning an error means
// nothing is cached and the error is surfaced to the caller.
type Loader[K comparable, V any] func(key K) (V, error)

// LoadingCache wraps a BoundedCache with an on-miss compute-and-store path.
//
// Concurrent misses for the same key are not deduplicated: two goroutines
// missing simultaneously will both invoke the loader and the second store
// wins. Loaders must therefore be idempotent.
type LoadingCache[K comparable, V any] struct {
	cache  *BoundedCache[K, V]
	loader Loader[K, V]
}

// NewLoading builds a loading cache over the given bounded cache and loader.
func NewLoading[K comparable, V any](cache *BoundedCache[K, V], loader Loader[K, V]) *LoadingCache[K, V] {
	return &LoadingCache[K, V]{cache: cache, loader: loader}
}

// Get returns the cached value for key, invoking the loader on a miss and
// storing its result before returning.
func (l *LoadingCache[K, V]) Get(key K) (V, error) {
	if v, ok := l.cache.Get(key); ok {
		return v, nil
	}

	v, err := l.loader(key)
	if err != nil {
		var zero V
		return zero, err
	}

	l.cache.Put(key, v)
	return v, nil
}

// Invalidate drops the cached value for key, if any.
func (l *LoadingCache[K, V]) Invalidate(key K) {
	l.cache.Remove(key)
}

// Stats returns the underlying cache counters.
func (l *LoadingCache[K, V]) Stats() Stats {
	return l.cache.Stats()
}
