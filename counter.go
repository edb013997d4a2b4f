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

import "sync/atomic"

// Counter is a progress counter shared by concurrent workers.
//
// The value only ever increases. Readers may observe a stale value, but never
// a smaller one than they observed before. It exists for progress reporting
// only and must not drive control flow.
type Counter struct {
	n atomic.Uint64
}

// Increment adds n to the counter and returns the value after the addition.
func (c *Counter) Increment(n uint64) uint64 {
	return c.n.Add(n)
}

// Load returns the current value.
func (c *Counter) Load() uint64 {
	return c.n.Load()
}
