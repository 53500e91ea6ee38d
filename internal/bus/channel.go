package bus

import (
	"sort"
	"strings"
)

// channelIndex maps a channel key to an ordered list of handlers.
// Keys follow the grammar "target:channel"; a colon-free key means
// "unscoped". Filters always sort before
// listeners within a bucket; insertion order is preserved otherwise.
// Buckets are garbage collected to zero-length on removal.
type channelIndex struct {
	buckets map[string][]*Handler
}

func newChannelIndex() *channelIndex {
	return &channelIndex{buckets: make(map[string][]*Handler)}
}

// add inserts h into the bucket named by key, defaulting to the global
// wildcard "*" when key is empty. A handler appears at most once per
// bucket (a handler never fires twice for the same bucket).
func (c *channelIndex) add(h *Handler, key string) {
	if key == "" {
		key = "*"
	}
	bucket := c.buckets[key]
	for _, existing := range bucket {
		if existing == h {
			return
		}
	}
	bucket = append(bucket, h)
	sort.SliceStable(bucket, func(i, j int) bool {
		return bucket[i].Filter && !bucket[j].Filter
	})
	c.buckets[key] = bucket
}

// remove deletes h from the named bucket, or from every bucket when
// key is empty. Empty buckets are pruned from the index.
func (c *channelIndex) remove(h *Handler, key string) {
	keys := []string{key}
	if key == "" {
		keys = c.allKeys()
	}
	for _, k := range keys {
		bucket := c.buckets[k]
		for i, existing := range bucket {
			if existing == h {
				bucket = append(bucket[:i], bucket[i+1:]...)
				break
			}
		}
		if len(bucket) == 0 {
			delete(c.buckets, k)
		} else {
			c.buckets[k] = bucket
		}
	}
}

func (c *channelIndex) allKeys() []string {
	keys := make([]string, 0, len(c.buckets))
	for k := range c.buckets {
		keys = append(keys, k)
	}
	return keys
}

// resolve returns the concatenated handler chain for a dispatch key of
// the form "channel" or "target:channel". The global
// bucket "*" always contributes first; wildcards on either side of the
// colon broaden the match.
func (c *channelIndex) resolve(dispatchKey string) []*Handler {
	var target, channel string
	if idx := strings.Index(dispatchKey, ":"); idx >= 0 {
		target, channel = dispatchKey[:idx], dispatchKey[idx+1:]
	} else {
		channel = dispatchKey
	}

	if dispatchKey == "*:*" {
		return c.allHandlers()
	}

	var out []*Handler
	out = append(out, c.buckets["*"]...)

	switch {
	case target == "*":
		suffix := ":" + channel
		for _, k := range c.sortedKeys() {
			if k == channel || strings.HasSuffix(k, suffix) {
				out = append(out, c.buckets[k]...)
			}
		}
		return out

	case channel == "*":
		prefix := target + ":"
		for _, k := range c.sortedKeys() {
			if strings.HasPrefix(k, prefix) || !strings.Contains(k, ":") {
				out = append(out, c.buckets[k]...)
			}
		}
		return out

	default:
		if b, ok := c.buckets[channel]; ok {
			out = append(out, b...)
		}
		if target != "" {
			if b, ok := c.buckets[target+":*"]; ok {
				out = append(out, b...)
			}
		}
		if b, ok := c.buckets["*:"+channel]; ok {
			out = append(out, b...)
		}
		if target != "" {
			if b, ok := c.buckets[dispatchKey]; ok {
				out = append(out, b...)
			}
		}
		return out
	}
}

// sortedKeys returns bucket keys in a stable order so resolution order
// is deterministic across runs (map iteration order is not).
func (c *channelIndex) sortedKeys() []string {
	keys := c.allKeys()
	sort.Strings(keys)
	return keys
}

// allHandlers returns every handler in the index, in deterministic
// bucket order.
func (c *channelIndex) allHandlers() []*Handler {
	var out []*Handler
	for _, k := range c.sortedKeys() {
		out = append(out, c.buckets[k]...)
	}
	return out
}

// empty reports whether the index has no buckets at all.
func (c *channelIndex) empty() bool {
	return len(c.buckets) == 0
}
