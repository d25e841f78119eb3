package trackerstream

import "sync"

// dedupCache suppresses duplicate trade delivery across the two sockets.
// The provider may send the same transaction on both the wallet room stream
// and a global stream; whichever copy arrives first wins.
//
// The set grows for the lifetime of a connection session and is cleared only
// on Disconnect, matching the at-most-once-per-session contract.
type dedupCache struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newDedupCache() *dedupCache {
	return &dedupCache{seen: make(map[string]struct{})}
}

// add records the transaction id and reports whether it was newly seen.
func (d *dedupCache) add(tx string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[tx]; ok {
		return false
	}
	d.seen[tx] = struct{}{}
	return true
}

func (d *dedupCache) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *dedupCache) clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[string]struct{})
}
