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
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/elastic/go-docstream"

type metrics struct {
	scrollDuration metric.Float64Histogram
	flushDuration  metric.Float64Histogram

	scrollPages   metric.Int64Counter
	docsExported  metric.Int64Counter
	docsRead      metric.Int64Counter
	docsDropped   metric.Int64Counter
	docsIndexed   metric.Int64Counter
	bulkRequests  metric.Int64Counter
	bytesTotal    metric.Int64Counter
	inflightBulk  metric.Int64UpDownCounter
	activeScrolls metric.Int64UpDownCounter
	refreshes     metric.Int64Counter
}

type histogramMetric struct {
	name        string
	description string
	unit        string
	p           *metric.Float64Histogram
}

type counterMetric struct {
	name        string
	description string
	unit        string
	p           *metric.Int64Counter
}

type upDownCounterMetric struct {
	name        string
	description string
	p           *metric.Int64UpDownCounter
}

func newMetrics(t Telemetry) (metrics, error) {
	mp := t.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	var ms metrics
	histograms := []histogramMetric{
		{
			name:        "elasticsearch.scroll.latency",
			description: "The amount of time a search or scroll request took, in seconds.",
			unit:        "s",
			p:           &ms.scrollDuration,
		},
		{
			name:        "elasticsearch.flushed.latency",
			description: "The amount of time a _bulk request took, in seconds.",
			unit:        "s",
			p:           &ms.flushDuration,
		},
	}
	for _, m := range histograms {
		if err := newFloat64Histogram(meter, m); err != nil {
			return ms, err
		}
	}

	counters := []counterMetric{
		{
			name:        "elasticsearch.scroll.pages",
			description: "The number of non-empty scroll pages received.",
			p:           &ms.scrollPages,
		},
		{
			name:        "docstream.export.docs",
			description: "The number of documents written to the export stream.",
			p:           &ms.docsExported,
		},
		{
			name:        "docstream.import.docs.read",
			description: "The number of lines read from the import stream.",
			p:           &ms.docsRead,
		},
		{
			name:        "docstream.import.docs.dropped",
			description: "The number of malformed import lines that were dropped.",
			p:           &ms.docsDropped,
		},
		{
			name:        "elasticsearch.events.processed",
			description: "The number of documents sent in successful _bulk requests. Dimensions report success or failure.",
			p:           &ms.docsIndexed,
		},
		{
			name:        "elasticsearch.bulk_requests.count",
			description: "The number of bulk requests completed.",
			p:           &ms.bulkRequests,
		},
		{
			name:        "elasticsearch.flushed.bytes",
			description: "The total number of bytes written to the request body",
			unit:        "by",
			p:           &ms.bytesTotal,
		},
		{
			name:        "elasticsearch.refresh.count",
			description: "The number of refresh requests sent.",
			p:           &ms.refreshes,
		},
	}
	for _, m := range counters {
		if err := newInt64Counter(meter, m); err != nil {
			return ms, err
		}
	}

	upDownCounters := []upDownCounterMetric{
		{
			name:        "elasticsearch.bulk_requests.inflight",
			description: "The number of bulk requests currently in flight.",
			p:           &ms.inflightBulk,
		},
		{
			name:        "elasticsearch.scroll.active",
			description: "The number of scroll workers currently running.",
			p:           &ms.activeScrolls,
		},
	}
	for _, m := range upDownCounters {
		c, err := meter.Int64UpDownCounter(m.name,
			metric.WithUnit("1"),
			metric.WithDescription(m.description),
		)
		if err != nil {
			return ms, fmt.Errorf("failed creating %s metric: %w", m.name, err)
		}
		*m.p = c
	}
	return ms, nil
}

func newInt64Counter(meter metric.Meter, c counterMetric) error {
	unit := c.unit
	if unit == "" {
		unit = "1"
	}
	m, err := meter.Int64Counter(
		c.name,
		metric.WithUnit(unit),
		metric.WithDescription(c.description),
	)
	if err != nil {
		return fmt.Errorf(
			"failed creating %s metric: %w", c.name, err,
		)
	}
	*c.p = m
	return nil
}

func newFloat64Histogram(meter metric.Meter, h histogramMetric) error {
	m, err := meter.Float64Histogram(
		h.name,
		metric.WithUnit(h.unit),
		metric.WithDescription(h.description),
	)
	if err != nil {
		return fmt.Errorf(
			"failed creating %s metric: %w", h.name, err,
		)
	}
	*h.p = m
	return nil
}
