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
	"time"

	"github.com/klauspost/compress/gzip"
	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultScrollKeepAlive is how long Elasticsearch keeps a scroll context
// alive between two page requests when ExportConfig.ScrollKeepAlive is unset.
const DefaultScrollKeepAlive = time.Minute

// Telemetry holds the optional logging, tracing and metrics configuration
// shared by Exporter and Importer.
type Telemetry struct {
	// Logger holds an optional Logger. Progress lines are logged at info
	// level, per-document failures at error level.
	//
	// If Logger is nil, logging will be disabled.
	Logger *zap.Logger

	// Tracer holds an optional apm.Tracer. Each scroll worker and each bulk
	// request is traced as a transaction.
	//
	// If Tracer is nil, requests will not be traced with Elastic APM.
	Tracer *apm.Tracer

	// TracerProvider holds an optional OTel TracerProvider. Each scroll page
	// and each bulk request is recorded as a span.
	//
	// If TracerProvider is nil, no spans are recorded.
	TracerProvider trace.TracerProvider

	// MeterProvider holds the OTel MeterProvider to be used to create and
	// record metrics.
	//
	// If unset, the global OTel MeterProvider will be used, if that is unset,
	// no metrics will be recorded.
	MeterProvider metric.MeterProvider

	// MetricAttributes holds any extra attributes to set in the recorded
	// metrics.
	MetricAttributes attribute.Set
}

func (t Telemetry) logger() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}

// ExportConfig holds configuration for Exporter.
type ExportConfig struct {
	Telemetry

	// Index holds the index expression to export from.
	//
	// If Index is empty, documents are exported from all indices.
	Index string

	// Query holds the raw JSON filter used to select documents.
	//
	// If Query is empty, every document is exported.
	Query []byte

	// Size holds the number of documents requested per scroll page.
	//
	// If Size is less than or equal to zero, the default of 100 will be used.
	Size int

	// Workers holds the number of concurrent scroll workers. When it is
	// greater than one, the query is sliced so every worker reads a disjoint
	// part of the matching documents.
	//
	// If Workers is less than or equal to zero, a single worker is used.
	Workers int

	// ScrollKeepAlive holds the lifetime of the scroll context between pages.
	//
	// If ScrollKeepAlive is zero, the default of 1 minute will be used.
	ScrollKeepAlive time.Duration

	// Compress gzips the exported stream.
	Compress bool
}

func (cfg ExportConfig) withDefaults() ExportConfig {
	if cfg.Index == "" {
		cfg.Index = AllIndices
	}
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ScrollKeepAlive <= 0 {
		cfg.ScrollKeepAlive = DefaultScrollKeepAlive
	}
	return cfg
}

// ImportConfig holds configuration for Importer.
type ImportConfig struct {
	Telemetry

	// Index holds the fixed index every document is written to.
	//
	// If Index is empty, each document is written to the index named in its
	// own _index field, and the final refresh applies to all indices.
	Index string

	// Size holds the number of documents per bulk request.
	//
	// If Size is less than or equal to zero, the default of 100 will be used.
	Size int

	// Concurrency holds the maximum number of bulk requests in flight.
	//
	// If Concurrency is less than or equal to zero, requests are sent one
	// at a time.
	Concurrency int

	// CompressionLevel holds the gzip compression level of bulk request
	// bodies, from 0 (gzip.NoCompression) to 9 (gzip.BestCompression). The
	// special value -1 (gzip.DefaultCompression) selects the default
	// compression level.
	CompressionLevel int

	// Compressed indicates the input stream is gzipped.
	Compressed bool

	// Strict makes the first malformed input line fail the import. By
	// default malformed lines are dropped and counted in ImportStats.Dropped.
	Strict bool
}

func (cfg ImportConfig) withDefaults() ImportConfig {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return cfg
}

// Validate checks cfg for values that cannot be defaulted.
func (cfg ImportConfig) Validate() error {
	if cfg.CompressionLevel < gzip.DefaultCompression || cfg.CompressionLevel > gzip.BestCompression {
		return configError("compression_level", ErrInvalidConfig,
			"expected CompressionLevel in range [-1,9], got %d", cfg.CompressionLevel,
		)
	}
	return nil
}
