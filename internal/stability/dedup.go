package stability

import "golang.org/x/sync/singleflight"

// ReadDedup deduplicates concurrent identical read requests so a cache
// stampede (many callers requesting the same uncached key at once) results
// in exactly one call to fn (§4.9).
type ReadDedup struct {
	group singleflight.Group
}

// Do executes fn for key, sharing the result with any concurrent callers
// using the same key.
func (r *ReadDedup) Do(key string, fn func() (any, error)) (any, error) {
	v, err, _ := r.group.Do(key, fn)
	return v, err
}
