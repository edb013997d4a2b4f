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
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/elastic/go-docstream"
)

func TestErrors(t *testing.T) {
	terr := &docstream.TransportError{Op: "scroll", Err: io.ErrUnexpectedEOF}
	assert.Equal(t, "scroll request failed: unexpected EOF", terr.Error())
	assert.ErrorIs(t, fmt.Errorf("export failed: %w", terr), io.ErrUnexpectedEOF)
	assert.False(t, terr.TooManyRequests())

	terr = &docstream.TransportError{Op: "bulk", StatusCode: http.StatusTooManyRequests, Body: "rejected"}
	assert.Equal(t, "bulk request failed: [429] rejected", terr.Error())
	assert.True(t, terr.TooManyRequests())

	perr := &docstream.ProtocolError{Op: "search", Reason: "missing hits.hits"}
	assert.Equal(t, "unexpected search response: missing hits.hits", perr.Error())

	merr := &docstream.MalformedRecordError{Line: 7, Err: errors.New("expected a JSON object")}
	assert.Equal(t, "malformed record on line 7: expected a JSON object", merr.Error())

	ierr := &docstream.ItemError{Batch: 3, Item: docstream.BulkIndexerResponseItem{Index: "a", ID: "1", Status: 409}}
	ierr.Item.Error.Type = "version_conflict_engine_exception"
	ierr.Item.Error.Reason = "conflict"
	assert.Equal(t,
		`err: {"_index":"a","_id":"1","status":409,"_shards":{"failed":0},"error":{"type":"version_conflict_engine_exception","reason":"conflict"}}`,
		ierr.Error(),
	)
}
