package store

import (
	"sync"

	"github.com/hashicorp/golang-lru/simplelru"

	"github.com/G-Research/logingester/pkg/logwriter"
)

// syncLRU guards a simplelru.LRU of partitions, which is not safe for concurrent use.
type syncLRU struct {
	mu  sync.Mutex
	lru *simplelru.LRU
}

func (c *syncLRU) Contains(partition logwriter.PartitionID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(partition)
}

func (c *syncLRU) Add(partition logwriter.PartitionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(partition, struct{}{})
}

func (c *syncLRU) Remove(partition logwriter.PartitionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(partition)
}
