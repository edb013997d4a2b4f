// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package docstream

import (
	"context"
	"sync/atomic"
)

// BulkIndexerPool is a fixed size pool of BulkIndexer instances. It is
// designed to be used in a concurrent environment where multiple goroutines
// acquire and release indexers.
//
// At most max indexers are "leased" at any time. Get blocks once the limit
// is reached, so the number of bulk requests in flight never exceeds max.
type BulkIndexerPool struct {
	// available holds indexers ready to be leased. Indexers are created
	// lazily, so a slot in tokens does not imply an indexer in available.
	available chan *BulkIndexer
	tokens    chan struct{}
	leased    atomic.Int64

	// Read only fields.
	max    int64
	config BulkIndexerConfig
}

// NewBulkIndexerPool returns a new BulkIndexerPool which leases at most max
// indexers, created with the given BulkIndexerConfig. A max lower than one
// is treated as one.
func NewBulkIndexerPool(max int, c BulkIndexerConfig) *BulkIndexerPool {
	if max < 1 {
		max = 1
	}
	return &BulkIndexerPool{
		available: make(chan *BulkIndexer, max),
		tokens:    make(chan struct{}, max),
		max:       int64(max),
		config:    c,
	}
}

// Get leases a BulkIndexer. If max indexers are already leased, Get waits
// until one is returned with Put or ctx is done.
func (p *BulkIndexerPool) Get(ctx context.Context) (*BulkIndexer, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case p.tokens <- struct{}{}:
	}
	p.leased.Add(1)
	select {
	case idx := <-p.available:
		return idx, nil
	default:
		return newBulkIndexer(p.config), nil
	}
}

// Put returns the BulkIndexer to the pool, discarding any buffered items.
// After calling Put() no references to the indexer should be stored, since
// doing so may lead to undefined behavior and unintended memory sharing.
func (p *BulkIndexerPool) Put(indexer *BulkIndexer) {
	if indexer == nil {
		return // No indexer to store, nothing to do.
	}
	if indexer.Items() > 0 {
		indexer.resetBuf()
	}
	select {
	case p.available <- indexer:
	default:
		// Only leased indexers are put back, so available never overflows.
	}
	p.leased.Add(-1)
	<-p.tokens
}

// Leased returns the number of indexers currently leased.
func (p *BulkIndexerPool) Leased() int64 {
	return p.leased.Load()
}

// Max returns the maximum number of indexers leased at once.
func (p *BulkIndexerPool) Max() int64 {
	return p.max
}
