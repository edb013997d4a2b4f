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
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/klauspost/compress/gzip"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// errExportAborted is returned to workers still paging after another worker
// failed the export.
var errExportAborted = errors.New("export aborted by a failed worker")

// ExportStats holds statistics for a finished, or failed, export.
type ExportStats struct {
	// Exported holds the number of documents written to the stream.
	Exported int64

	// Pages holds the number of non-empty pages received.
	Pages int64
}

// Exporter streams the documents matching a query out of Elasticsearch,
// with one scroll worker per slice.
type Exporter struct {
	client  esapi.Transport
	config  ExportConfig
	logger  *zap.Logger
	metrics metrics
	queries []PageQuery
	counter Counter

	// tracer is an OTel tracer, and should not be confused with
	// `config.Tracer` which is an Elastic APM Tracer.
	tracer trace.Tracer

	// pages is reset by every Export.
	pages atomic.Int64
}

// NewExporter returns a new Exporter that reads from Elasticsearch through
// client. The per worker queries are built here, so an invalid query or
// worker count is reported before any request is sent.
func NewExporter(client esapi.Transport, cfg ExportConfig) (*Exporter, error) {
	if client == nil {
		return nil, configError("client", ErrInvalidConfig, "client is nil")
	}
	cfg = cfg.withDefaults()
	queries := make([]PageQuery, cfg.Workers)
	for id := range queries {
		q, err := BuildQuery(cfg.Size, cfg.Query, id, cfg.Workers)
		if err != nil {
			return nil, err
		}
		queries[id] = q
	}
	ms, err := newMetrics(cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	e := &Exporter{
		client:  client,
		config:  cfg,
		logger:  cfg.logger(),
		metrics: ms,
		queries: queries,
	}
	if cfg.TracerProvider != nil {
		e.tracer = cfg.TracerProvider.Tracer("github.com/elastic/go-docstream.exporter")
	}
	return e, nil
}

// Queries returns the page queries of the workers, indexed by slice id.
func (e *Exporter) Queries() []PageQuery {
	return append([]PageQuery(nil), e.queries...)
}

// Processed returns the number of documents emitted so far.
func (e *Exporter) Processed() uint64 {
	return e.counter.Load()
}

// Export writes every matching document to w, one JSON document per line.
//
// Export returns as soon as a worker fails, with that worker's error. The
// other workers are not cancelled, but they can no longer write to w: each
// stops once its in-flight request completes and releases its scroll.
// Documents already written to w are not retracted. Export must not be
// called concurrently on the same Exporter.
func (e *Exporter) Export(ctx context.Context, w io.Writer) (ExportStats, error) {
	var gz *gzip.Writer
	if e.config.Compress {
		gz = gzip.NewWriter(w)
		w = gz
	}
	sink := &pageWriter{w: w}
	e.pages.Store(0)

	link := runLinkFromContext(ctx)
	var g errgroup.Group
	failed := make(chan error, 1)
	for id, q := range e.queries {
		worker := newScrollWorker(e, id, q, link, sink)
		g.Go(func() error {
			err := worker.run(ctx)
			if err != nil {
				select {
				case failed <- err:
				default:
				}
			}
			return err
		})
	}
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var err error
	select {
	case err = <-done:
	case err = <-failed:
		sink.abort()
	}
	if gz != nil {
		if cerr := gz.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close gzip output: %w", cerr)
		}
	}
	stats := ExportStats{
		Exported: sink.docs(),
		Pages:    e.pages.Load(),
	}
	return stats, err
}

// pageWriter serialises page writes from concurrent workers, so that the
// lines of a page are never interleaved with another page.
type pageWriter struct {
	mu      sync.Mutex
	w       io.Writer
	lines   int64
	aborted bool
}

func (p *pageWriter) writePage(lines []byte, n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.aborted {
		return errExportAborted
	}
	if _, err := p.w.Write(lines); err != nil {
		return fmt.Errorf("failed to write documents: %w", err)
	}
	p.lines += int64(n)
	return nil
}

// abort makes every later writePage fail with errExportAborted. Once abort
// returns, the underlying writer is no longer written to.
func (p *pageWriter) abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aborted = true
}

func (p *pageWriter) docs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lines
}
