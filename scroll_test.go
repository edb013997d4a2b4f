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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeScrollResult(t *testing.T) {
	body := `{
  "_scroll_id": "abc",
  "took": 3,
  "hits": {
    "total": {"value": 2, "relation": "eq"},
    "hits": [
      {"_index": "a", "_id": "1", "_score": 1.0, "_source": {
        "msg": "multi\nline",
        "n": 1
      }, "sort": [0]},
      {"_index": "a", "_id": "2", "_score": null, "_source": {"n": 2}, "fields": {"f": [1]}}
    ]
  }
}`
	result, err := decodeScrollResult(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "abc", result.scrollID)
	assert.Equal(t, 2, result.hits)

	lines := strings.Split(strings.TrimSuffix(string(result.lines), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"_index":"a","_id":"1","_source":{"msg":"multi\nline","n":1}}`, lines[0])
	assert.Equal(t, `{"_index":"a","_id":"2","_source":{"n":2},"fields":{"f":[1]}}`, lines[1])
}

func TestDecodeScrollResultEmpty(t *testing.T) {
	result, err := decodeScrollResult(strings.NewReader(`{"hits":{"hits":[]}}`))
	require.NoError(t, err)
	assert.Equal(t, 0, result.hits)
	assert.Empty(t, result.scrollID)
	assert.Empty(t, result.lines)
}

func TestDecodeScrollResultInvalid(t *testing.T) {
	for _, body := range []string{
		`{"_scroll_id":"abc"}`,
		`{"hits":{"total":0}}`,
		`{"hits":{"hits":[1]}}`,
		`{"hits":{"hits":[{"_id":"1"}`,
		`not json`,
	} {
		t.Run(body, func(t *testing.T) {
			_, err := decodeScrollResult(strings.NewReader(body))
			assert.Error(t, err)
		})
	}
}

func TestFormatKeepAlive(t *testing.T) {
	assert.Equal(t, "1m", formatKeepAlive(time.Minute))
	assert.Equal(t, "90s", formatKeepAlive(90*time.Second))
	assert.Equal(t, "1500ms", formatKeepAlive(1500*time.Millisecond))
	assert.Equal(t, "60m", formatKeepAlive(time.Hour))
}

func TestScrollCursorBody(t *testing.T) {
	w := &scrollWorker{cursor: ScrollCursor{ScrollID: "DXF1ZXJ5", KeepAlive: 5 * time.Minute}}
	assert.JSONEq(t, `{"scroll":"5m","scroll_id":"DXF1ZXJ5"}`, string(w.cursorBody()))
}

func TestScrollStateString(t *testing.T) {
	for state, expect := range map[scrollState]string{
		scrollInit:     "init",
		scrollPage:     "page",
		scrollOpen:     "open",
		scrollDone:     "done",
		scrollState(9): "unknown",
	} {
		assert.Equal(t, expect, state.String())
	}
}
