package toolserver

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"polyagent/internal/gateway/provider"
)

const toolCacheSize = 64

// ToolCache holds tool catalogs keyed by server URL. It is shared by every
// handle of a process and is safe for concurrent use.
type ToolCache struct {
	lru *expirable.LRU[string, []provider.Tool]
}

// NewToolCache builds a cache whose entries expire after ttl; ttl <= 0 never expires.
func NewToolCache(ttl time.Duration) *ToolCache {
	return &ToolCache{lru: expirable.NewLRU[string, []provider.Tool](toolCacheSize, nil, ttl)}
}

func (c *ToolCache) Get(key string) ([]provider.Tool, bool) {
	if c == nil {
		return nil, false
	}
	tools, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return cloneTools(tools), true
}

func (c *ToolCache) Put(key string, tools []provider.Tool) {
	if c == nil {
		return
	}
	c.lru.Add(key, cloneTools(tools))
}

func (c *ToolCache) Purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}

func cloneTools(in []provider.Tool) []provider.Tool {
	if in == nil {
		return nil
	}
	out := make([]provider.Tool, len(in))
	copy(out, in)
	return out
}
