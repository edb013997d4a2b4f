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
	"errors"
	"fmt"
	"iter"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOperations(n int, failAt int, err error) iter.Seq2[BulkOperation, error] {
	return func(yield func(BulkOperation, error) bool) {
		for i := 0; i < n; i++ {
			if i == failAt {
				yield(BulkOperation{}, err)
				return
			}
			if !yield(BulkOperation{Index: "idx", ID: strconv.Itoa(i)}, nil) {
				return
			}
		}
	}
}

func TestBatchOperations(t *testing.T) {
	for _, tc := range []struct {
		ops, size int
		expect    []int
	}{
		{ops: 0, size: 3, expect: nil},
		{ops: 2, size: 1000, expect: []int{2}},
		{ops: 6, size: 3, expect: []int{3, 3}},
		{ops: 7, size: 3, expect: []int{3, 3, 1}},
		{ops: 3, size: 0, expect: []int{1, 1, 1}},
	} {
		t.Run(fmt.Sprintf("%d/%d", tc.ops, tc.size), func(t *testing.T) {
			var sizes []int
			var next int
			for b, err := range batchOperations(testOperations(tc.ops, -1, nil), tc.size) {
				require.NoError(t, err)
				assert.Equal(t, int64(len(sizes)+1), b.Seq)
				assert.Equal(t, BatchPending, b.State())
				// Input order is preserved across batches.
				for _, op := range b.Ops {
					assert.Equal(t, strconv.Itoa(next), op.ID)
					next++
				}
				sizes = append(sizes, len(b.Ops))
			}
			assert.Equal(t, tc.expect, sizes)
			assert.Equal(t, tc.ops, next)
		})
	}
}

func TestBatchOperationsError(t *testing.T) {
	errBoom := errors.New("boom")
	var sizes []int
	var lastErr error
	for b, err := range batchOperations(testOperations(10, 5, errBoom), 2) {
		if err != nil {
			lastErr = err
			continue
		}
		sizes = append(sizes, len(b.Ops))
	}
	// The partial batch holding op 4 is not emitted.
	assert.Equal(t, []int{2, 2}, sizes)
	assert.ErrorIs(t, lastErr, errBoom)
}

func TestBatchOperationsStop(t *testing.T) {
	var n int
	for range batchOperations(testOperations(100, -1, nil), 10) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestBatchState(t *testing.T) {
	var b Batch
	assert.Equal(t, BatchPending, b.State())
	assert.False(t, b.advance(BatchInFlight, BatchDone))
	assert.True(t, b.advance(BatchPending, BatchInFlight))
	assert.Equal(t, BatchInFlight, b.State())
	assert.False(t, b.advance(BatchPending, BatchInFlight))
	assert.True(t, b.advance(BatchInFlight, BatchDone))
	assert.Equal(t, BatchDone, b.State())

	assert.Equal(t, "pending", BatchPending.String())
	assert.Equal(t, "in_flight", BatchInFlight.String())
	assert.Equal(t, "done", BatchDone.String())
	assert.Equal(t, "unknown", BatchState(42).String())
}
