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

package docstreamtest

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/metric/metricdata/metricdatatest"
)

// AssertOTelMetrics calls assert for every metric in ms.
func AssertOTelMetrics(t testing.TB, ms []metricdata.Metrics, assert func(m metricdata.Metrics)) {
	t.Helper()
	for _, m := range ms {
		assert(m)
	}
}

// NewAssertCounter returns a function asserting that the data points of an
// int64 sum carry attrs and add up to count. Each call increments asserted.
func NewAssertCounter(t testing.TB, asserted *atomic.Int64) func(metric metricdata.Metrics, count int64, attrs attribute.Set) {
	t.Helper()
	return func(metric metricdata.Metrics, count int64, attrs attribute.Set) {
		asserted.Add(1)
		counter, ok := metric.Data.(metricdata.Sum[int64])
		if !assert.True(t, ok, "%s is not an int64 sum", metric.Name) {
			return
		}
		var total int64
		for _, dp := range counter.DataPoints {
			metricdatatest.AssertHasAttributes(t, dp, attrs.ToSlice()...)
			total += dp.Value
		}
		assert.Equal(t, count, total, metric.Name)
	}
}
