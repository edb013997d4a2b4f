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
	"iter"
	"sync/atomic"
)

// BatchState is the lifecycle state of a Batch.
type BatchState int32

const (
	// BatchPending batches are filled but not yet handed to a bulk indexer.
	BatchPending BatchState = iota
	// BatchInFlight batches have a bulk request outstanding.
	BatchInFlight
	// BatchDone batches have received a response, or failed.
	BatchDone
)

func (s BatchState) String() string {
	switch s {
	case BatchPending:
		return "pending"
	case BatchInFlight:
		return "in_flight"
	case BatchDone:
		return "done"
	}
	return "unknown"
}

// Batch is an ordered group of bulk operations sent in a single request.
type Batch struct {
	// Seq is the 1-based position of the batch in the input stream.
	Seq int64
	Ops []BulkOperation

	state atomic.Int32
}

// State returns the current state of the batch.
func (b *Batch) State() BatchState {
	return BatchState(b.state.Load())
}

// advance moves the batch from one state to the next, returning false if
// the batch was not in the expected state.
func (b *Batch) advance(from, to BatchState) bool {
	return b.state.CompareAndSwap(int32(from), int32(to))
}

// batchOperations groups ops into batches of at most size operations. The
// last batch holds the remainder and may be shorter. An error from ops is
// yielded as is and ends the sequence without flushing the partial batch.
func batchOperations(ops iter.Seq2[BulkOperation, error], size int) iter.Seq2[*Batch, error] {
	if size < 1 {
		size = 1
	}
	return func(yield func(*Batch, error) bool) {
		var seq int64
		pending := make([]BulkOperation, 0, size)
		emit := func() bool {
			seq++
			b := &Batch{Seq: seq, Ops: pending}
			pending = make([]BulkOperation, 0, size)
			return yield(b, nil)
		}
		for op, err := range ops {
			if err != nil {
				yield(nil, err)
				return
			}
			pending = append(pending, op)
			if len(pending) == size && !emit() {
				return
			}
		}
		if len(pending) > 0 {
			emit()
		}
	}
}
