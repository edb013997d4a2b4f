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
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-docstream"
)

func TestBuildQuerySlices(t *testing.T) {
	filters := []string{"", `{"match_all":{}}`, `{"term":{"user":"kimchy"}}`}
	for _, filter := range filters {
		for workers := 1; workers <= 8; workers++ {
			t.Run(fmt.Sprintf("%d/%s", workers, filter), func(t *testing.T) {
				seen := make(map[int]bool)
				for id := 0; id < workers; id++ {
					q, err := docstream.BuildQuery(100, []byte(filter), id, workers)
					require.NoError(t, err)
					assert.Equal(t, []string{"_doc"}, q.Sort)
					if workers == 1 {
						assert.Nil(t, q.Slice)
						continue
					}
					require.NotNil(t, q.Slice)
					assert.Equal(t, workers, q.Slice.Max)
					assert.False(t, seen[q.Slice.ID], "duplicate slice id")
					seen[q.Slice.ID] = true
				}
				if workers > 1 {
					for id := 0; id < workers; id++ {
						assert.True(t, seen[id], "slice %d not covered", id)
					}
				}
			})
		}
	}
}

func TestBuildQueryDefaults(t *testing.T) {
	q, err := docstream.BuildQuery(0, nil, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, docstream.DefaultSize, q.Size)
	assert.JSONEq(t, docstream.DefaultFilter, string(q.Filter))

	q, err = docstream.BuildQuery(-5, []byte("  "), 0, 1)
	require.NoError(t, err)
	assert.Equal(t, docstream.DefaultSize, q.Size)
	assert.JSONEq(t, docstream.DefaultFilter, string(q.Filter))
}

func TestBuildQueryInvalidFilter(t *testing.T) {
	for _, filter := range []string{
		`[]`,
		`"match_all"`,
		`42`,
		`{"match_all":`,
		`not json`,
		`null`,
	} {
		t.Run(filter, func(t *testing.T) {
			_, err := docstream.BuildQuery(10, []byte(filter), 0, 1)
			require.Error(t, err)
			assert.ErrorIs(t, err, docstream.ErrInvalidFilter)
			var cerr *docstream.ConfigError
			assert.ErrorAs(t, err, &cerr)
		})
	}
}

func TestBuildQueryInvalidWorker(t *testing.T) {
	for _, tc := range []struct{ id, max int }{
		{id: 0, max: 0},
		{id: 2, max: 2},
		{id: -1, max: 3},
	} {
		_, err := docstream.BuildQuery(10, nil, tc.id, tc.max)
		assert.ErrorIs(t, err, docstream.ErrInvalidConfig, "id=%d max=%d", tc.id, tc.max)
	}
}

func TestPageQueryMarshalJSON(t *testing.T) {
	q, err := docstream.BuildQuery(50, []byte(`{"term":{"user":"kimchy"}}`), 0, 1)
	require.NoError(t, err)
	body, err := json.Marshal(q)
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":{"term":{"user":"kimchy"}},"size":50,"sort":["_doc"]}`, string(body))

	q, err = docstream.BuildQuery(50, nil, 2, 3)
	require.NoError(t, err)
	body, err = q.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":{"match_all":{}},"size":50,"sort":["_doc"],"slice":{"id":2,"max":3}}`, string(body))
}
