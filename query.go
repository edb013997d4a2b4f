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
	"bytes"

	jsoniter "github.com/json-iterator/go"
	"go.elastic.co/fastjson"
)

const (
	// DefaultSize is the number of documents per scroll page or bulk request
	// used when no size is configured.
	DefaultSize = 100

	// DefaultFilter matches every document.
	DefaultFilter = `{"match_all":{}}`
)

// Slice addresses one partition of a sliced scroll.
type Slice struct {
	ID  int
	Max int
}

// PageQuery is the search body used by a single scroll worker.
type PageQuery struct {
	Filter jsoniter.RawMessage
	Size   int
	Sort   []string

	// Slice is nil unless the export runs more than one worker.
	Slice *Slice
}

// BuildQuery returns the query for worker id out of max workers.
//
// The sort order is always _doc, the only order for which scroll paging is
// guaranteed to be stable. A slice is only attached when max > 1, so that
// each worker pages through a disjoint part of the same match set.
func BuildQuery(size int, filter []byte, id, max int) (PageQuery, error) {
	if size <= 0 {
		size = DefaultSize
	}
	filter = bytes.TrimSpace(filter)
	if len(filter) == 0 {
		filter = []byte(DefaultFilter)
	}
	if !jsoniter.Valid(filter) || jsoniter.Get(filter).ValueType() != jsoniter.ObjectValue {
		return PageQuery{}, configError("query", ErrInvalidFilter, "expected a JSON object, got %q", filter)
	}
	if max < 1 {
		return PageQuery{}, configError("concurrency", ErrInvalidConfig, "expected at least 1 worker, got %d", max)
	}
	if id < 0 || id >= max {
		return PageQuery{}, configError("concurrency", ErrInvalidConfig, "worker id %d out of range [0,%d)", id, max)
	}
	q := PageQuery{
		Filter: append(jsoniter.RawMessage(nil), filter...),
		Size:   size,
		Sort:   []string{"_doc"},
	}
	if max > 1 {
		q.Slice = &Slice{ID: id, Max: max}
	}
	return q, nil
}

// MarshalJSON encodes q as an Elasticsearch search body.
func (q PageQuery) MarshalJSON() ([]byte, error) {
	var w fastjson.Writer
	q.writeTo(&w)
	return w.Bytes(), nil
}

func (q PageQuery) writeTo(w *fastjson.Writer) {
	w.RawString(`{"query":`)
	w.RawBytes(q.Filter)
	w.RawString(`,"size":`)
	w.Int64(int64(q.Size))
	w.RawString(`,"sort":[`)
	for i, field := range q.Sort {
		if i > 0 {
			w.RawByte(',')
		}
		w.String(field)
	}
	w.RawByte(']')
	if q.Slice != nil {
		w.RawString(`,"slice":{"id":`)
		w.Int64(int64(q.Slice.ID))
		w.RawString(`,"max":`)
		w.Int64(int64(q.Slice.Max))
		w.RawByte('}')
	}
	w.RawByte('}')
}
