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
	"iter"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/klauspost/compress/gzip"
	"go.elastic.co/apm/module/apmzap/v2"
	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ImportStats holds statistics for a finished, or failed, import.
type ImportStats struct {
	// Read holds the number of non-blank input lines read.
	Read int64

	// Dropped holds the number of malformed input lines which were skipped.
	Dropped int64

	// Indexed holds the number of documents written successfully.
	Indexed int64

	// Failed holds the number of documents rejected by Elasticsearch inside
	// an otherwise successful bulk request.
	Failed int64

	// Batches holds the number of successful bulk requests.
	Batches int64
}

type importStats struct {
	read, dropped, indexed, failed, batches atomic.Int64
}

func (s *importStats) snapshot() ImportStats {
	return ImportStats{
		Read:    s.read.Load(),
		Dropped: s.dropped.Load(),
		Indexed: s.indexed.Load(),
		Failed:  s.failed.Load(),
		Batches: s.batches.Load(),
	}
}

// Importer reads exported documents from a stream and writes them to
// Elasticsearch with concurrent _bulk requests.
type Importer struct {
	client  esapi.Transport
	config  ImportConfig
	logger  *zap.Logger
	pool    *BulkIndexerPool
	metrics metrics
	counter Counter

	// tracer is an OTel tracer, and should not be confused with
	// `config.Tracer` which is an Elastic APM Tracer.
	tracer trace.Tracer
}

// NewImporter returns a new Importer that writes to Elasticsearch through
// client.
func NewImporter(client esapi.Transport, cfg ImportConfig) (*Importer, error) {
	if client == nil {
		return nil, configError("client", ErrInvalidConfig, "client is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	ms, err := newMetrics(cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	imp := &Importer{
		client:  client,
		config:  cfg,
		logger:  cfg.logger(),
		metrics: ms,
		pool: NewBulkIndexerPool(cfg.Concurrency, BulkIndexerConfig{
			Client:           client,
			CompressionLevel: cfg.CompressionLevel,
		}),
	}
	if cfg.TracerProvider != nil {
		imp.tracer = cfg.TracerProvider.Tracer("github.com/elastic/go-docstream.importer")
	}
	return imp, nil
}

// Processed returns the number of documents sent in successful bulk
// requests so far, including documents Elasticsearch rejected individually.
func (imp *Importer) Processed() uint64 {
	return imp.counter.Load()
}

// Import reads one document envelope per line from r, and indexes them in
// batches of ImportConfig.Size documents, with at most
// ImportConfig.Concurrency bulk requests in flight.
//
// The first bulk request which fails as a whole stops the import: no more
// batches are sent, batches already in flight run to completion and the
// error is returned. Documents rejected individually are logged and counted
// in ImportStats.Failed without failing the import. Once every batch has
// been written, the target is refreshed.
func (imp *Importer) Import(ctx context.Context, r io.Reader) (ImportStats, error) {
	var stats importStats
	if imp.config.Compressed {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return stats.snapshot(), fmt.Errorf("failed to open gzip input: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	// Bulk requests use ctx rather than gctx, so a failing batch does not
	// cancel its siblings. dispatchCtx is cancelled by a failing batch before
	// its indexer is returned to the pool, so no batch is sent after it.
	g, gctx := errgroup.WithContext(ctx)
	dispatchCtx, stopDispatch := context.WithCancel(gctx)
	defer stopDispatch()
	var readErr error
	for batch, err := range batchOperations(imp.operations(r, &stats), imp.config.Size) {
		if err != nil {
			readErr = err
			break
		}
		indexer, err := imp.pool.Get(dispatchCtx)
		if err != nil {
			break
		}
		if dispatchCtx.Err() != nil {
			imp.pool.Put(indexer)
			break
		}
		attrs := metric.WithAttributeSet(imp.config.MetricAttributes)
		imp.metrics.inflightBulk.Add(context.Background(), 1, attrs)
		batch.advance(BatchPending, BatchInFlight)
		g.Go(func() error {
			defer func() {
				batch.advance(BatchInFlight, BatchDone)
				imp.metrics.inflightBulk.Add(context.Background(), -1, attrs)
				imp.pool.Put(indexer)
			}()
			if err := imp.flush(ctx, indexer, batch, &stats); err != nil {
				stopDispatch()
				return err
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = readErr
	}
	if err == nil {
		err = ctx.Err()
	}
	if dropped := stats.dropped.Load(); dropped > 0 {
		imp.logger.Warn("dropped malformed input lines", zap.Int64("dropped", dropped))
	}
	if err != nil {
		return stats.snapshot(), err
	}
	if err := imp.refresh(ctx); err != nil {
		return stats.snapshot(), err
	}
	return stats.snapshot(), nil
}

// operations decodes the lines of r into bulk operations. Malformed lines are
// dropped, unless the import is strict, in which case the first one ends the
// sequence with a *MalformedRecordError.
func (imp *Importer) operations(r io.Reader, stats *importStats) iter.Seq2[BulkOperation, error] {
	return func(yield func(BulkOperation, error) bool) {
		attrs := metric.WithAttributeSet(imp.config.MetricAttributes)
		var lineno int64
		for line, err := range readLines(r) {
			if err != nil {
				yield(BulkOperation{}, err)
				return
			}
			lineno++
			if len(line) == 0 {
				continue
			}
			stats.read.Add(1)
			imp.metrics.docsRead.Add(context.Background(), 1, attrs)
			op, err := decodeRecord(line, imp.config.Index)
			if err != nil {
				merr := &MalformedRecordError{Line: lineno, Err: err}
				if imp.config.Strict {
					yield(BulkOperation{}, merr)
					return
				}
				stats.dropped.Add(1)
				imp.metrics.docsDropped.Add(context.Background(), 1, attrs)
				imp.logger.Debug("dropping malformed input line", zap.Error(merr))
				continue
			}
			if !yield(op, nil) {
				return
			}
		}
	}
}

func (imp *Importer) flush(ctx context.Context, indexer *BulkIndexer, batch *Batch, stats *importStats) error {
	n := len(batch.Ops)
	defer func() {
		attrs := metric.WithAttributeSet(imp.config.MetricAttributes)
		imp.metrics.bulkRequests.Add(context.Background(), 1, attrs)
	}()

	link := runLinkFromContext(ctx)
	logger := imp.logger
	if imp.tracingEnabled() {
		tx := imp.config.Tracer.StartTransactionOptions("docstream.flush", "output", link.apmOptions())
		tx.Context.SetLabel("documents", n)
		defer tx.End()
		ctx = apm.ContextWithTransaction(ctx, tx)

		// Add trace IDs to logger, to associate any per-item errors
		// below with the trace.
		logger = logger.With(apmzap.TraceContext(ctx)...)
	}

	var span trace.Span
	if imp.tracer != nil {
		opts := append(link.otelOptions(), trace.WithAttributes(
			attribute.Int("documents", n),
			attribute.Int64("batch", batch.Seq),
		))
		ctx, span = imp.tracer.Start(ctx, "docstream.flush", opts...)
		defer span.End()

		// Add trace IDs to logger, to associate any per-item errors
		// below with the trace.
		logger = logger.With(
			zap.String("traceId", span.SpanContext().TraceID().String()),
			zap.String("spanId", span.SpanContext().SpanID().String()),
		)
	}

	for _, op := range batch.Ops {
		if err := indexer.Add(op); err != nil {
			return fmt.Errorf("failed to add document %q to batch %d: %w", op.ID, batch.Seq, err)
		}
	}

	start := time.Now()
	resp, err := indexer.Flush(ctx)
	took := time.Since(start).Seconds()

	attrs := metric.WithAttributeSet(imp.config.MetricAttributes)
	if flushed := indexer.BytesFlushed(); flushed > 0 {
		imp.metrics.bytesTotal.Add(context.Background(), int64(flushed), attrs)
	}
	if err != nil {
		logger.Error("bulk indexing request failed", zap.Int64("batch", batch.Seq), zap.Error(err))
		if imp.tracingEnabled() {
			apm.CaptureError(ctx, err).Send()
		}
		if span != nil && span.IsRecording() {
			span.RecordError(err)
			span.SetStatus(codes.Error, "bulk indexing request failed")
		}
		status := "Failed"
		var terr *TransportError
		if errors.As(err, &terr) && terr.StatusCode != 0 {
			status = "FailedServer"
			if terr.StatusCode < 500 {
				status = "FailedClient"
			}
			if terr.TooManyRequests() {
				status = "TooMany"
			}
			imp.metrics.docsIndexed.Add(context.Background(), int64(n),
				metric.WithAttributes(
					attribute.String("status", status),
					semconv.HTTPResponseStatusCode(terr.StatusCode),
				),
				attrs,
			)
		} else {
			imp.metrics.docsIndexed.Add(context.Background(), int64(n),
				metric.WithAttributes(attribute.String("status", status)), attrs,
			)
		}
		imp.metrics.flushDuration.Record(context.Background(), took,
			metric.WithAttributes(attribute.String("status", status)), attrs,
		)
		return err
	}
	imp.metrics.flushDuration.Record(context.Background(), took,
		metric.WithAttributes(attribute.String("status", "Success")), attrs,
	)

	processed := imp.counter.Increment(uint64(n))
	stats.batches.Add(1)
	logger.Info("Indexed another batch, have now processed " + strconv.FormatUint(processed, 10))

	failed := int64(len(resp.FailedDocs))
	stats.indexed.Add(resp.Indexed)
	stats.failed.Add(failed)
	for _, item := range resp.FailedDocs {
		ierr := &ItemError{Batch: batch.Seq, Item: item}
		logger.Error(ierr.Error(), zap.Int64("batch", batch.Seq))
		if imp.tracingEnabled() {
			apm.CaptureError(ctx, ierr).Send()
		}
		if span != nil && span.IsRecording() {
			span.RecordError(ierr)
			span.SetStatus(codes.Error, "document indexing failed")
		}
	}
	if resp.Indexed > 0 {
		imp.metrics.docsIndexed.Add(context.Background(), resp.Indexed,
			metric.WithAttributes(attribute.String("status", "Success")), attrs,
		)
	}
	if failed > 0 {
		imp.metrics.docsIndexed.Add(context.Background(), failed,
			metric.WithAttributes(attribute.String("status", "FailedDocument")), attrs,
		)
	}
	logger.Debug(
		"bulk request completed",
		zap.Int64("batch", batch.Seq),
		zap.Int64("docs_indexed", resp.Indexed),
		zap.Int64("docs_failed", failed),
	)
	if span != nil && span.IsRecording() && failed == 0 {
		span.SetStatus(codes.Ok, "")
	}
	return nil
}

// tracingEnabled checks whether we should be doing tracing
func (imp *Importer) tracingEnabled() bool {
	return imp.config.Tracer != nil && imp.config.Tracer.Recording()
}

// refresh makes the imported documents visible to search.
func (imp *Importer) refresh(ctx context.Context) error {
	index := imp.config.Index
	if index == "" {
		index = AllIndices
	}
	attrs := metric.WithAttributeSet(imp.config.MetricAttributes)
	imp.metrics.refreshes.Add(context.Background(), 1, attrs)

	req := esapi.IndicesRefreshRequest{Index: []string{index}}
	res, err := req.Do(ctx, imp.client)
	if err != nil {
		return &TransportError{Op: "refresh", Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return newStatusError("refresh", res)
	}
	imp.logger.Debug("refreshed indices", zap.String("index", index))
	return nil
}
