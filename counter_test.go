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

package docstream_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/elastic/go-docstream"
)

func TestCounterIncrement(t *testing.T) {
	var c docstream.Counter
	assert.Equal(t, uint64(0), c.Load())
	assert.Equal(t, uint64(3), c.Increment(3))
	assert.Equal(t, uint64(3), c.Increment(0))
	assert.Equal(t, uint64(10), c.Increment(7))
	assert.Equal(t, uint64(10), c.Load())
}

func TestCounterConcurrent(t *testing.T) {
	const workers, increments = 8, 1000
	var c docstream.Counter
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(n uint64) {
			defer wg.Done()
			var last uint64
			for i := 0; i < increments; i++ {
				v := c.Increment(n)
				// Values returned to one goroutine never decrease.
				assert.Greater(t, v, last)
				last = v
			}
		}(uint64(w + 1))
	}
	wg.Wait()
	// 1+2+...+8 per round.
	assert.Equal(t, uint64(increments*workers*(workers+1)/2), c.Load())
}
