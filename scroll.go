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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	jsoniter "github.com/json-iterator/go"
	"go.elastic.co/apm/module/apmzap/v2"
	"go.elastic.co/apm/v2"
	"go.elastic.co/fastjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ScrollCursor identifies an open scroll context.
type ScrollCursor struct {
	ScrollID  string
	KeepAlive time.Duration
}

type scrollState int

const (
	// scrollInit workers have not sent their initial search yet.
	scrollInit scrollState = iota
	// scrollPage workers hold a page which has not been consumed.
	scrollPage
	// scrollOpen workers hold a cursor for the next page.
	scrollOpen
	// scrollDone workers have drained their slice.
	scrollDone
)

func (s scrollState) String() string {
	switch s {
	case scrollInit:
		return "init"
	case scrollPage:
		return "page"
	case scrollOpen:
		return "open"
	case scrollDone:
		return "done"
	}
	return "unknown"
}

// transientHitFields are removed from every hit before it is emitted.
var transientHitFields = map[string]bool{
	"_score": true,
	"sort":   true,
}

// scrollResult is a decoded search or scroll response.
type scrollResult struct {
	scrollID string
	hits     int
	// lines holds the hits re-encoded as newline terminated JSON documents.
	lines []byte
}

// decodeScrollResult decodes a search or scroll response body, stripping
// transient fields from each hit while preserving hit order.
func decodeScrollResult(r io.Reader) (scrollResult, error) {
	var result scrollResult
	var w fastjson.Writer
	var sawHits bool
	it := jsoniter.Parse(jsoniter.ConfigFastest, r, 4096)
	it.ReadObjectCB(func(i *jsoniter.Iterator, field string) bool {
		switch field {
		case "_scroll_id":
			result.scrollID = i.ReadString()
		case "hits":
			i.ReadObjectCB(func(i *jsoniter.Iterator, field string) bool {
				if field != "hits" {
					i.Skip()
					return true
				}
				sawHits = true
				i.ReadArrayCB(func(i *jsoniter.Iterator) bool {
					if i.WhatIsNext() != jsoniter.ObjectValue {
						i.ReportError("decodeScrollResult", "expected hit object")
						return false
					}
					writeHit(&w, i)
					result.hits++
					return true
				})
				return true
			})
		default:
			i.Skip()
		}
		return true
	})
	if it.Error != nil && !errors.Is(it.Error, io.EOF) {
		return result, fmt.Errorf("failed to decode response: %w", it.Error)
	}
	if !sawHits {
		return result, errors.New("missing hits.hits")
	}
	result.lines = w.Bytes()
	return result, nil
}

// writeHit copies the hit at the iterator to w, without transient fields,
// followed by a newline.
func writeHit(w *fastjson.Writer, it *jsoniter.Iterator) {
	w.RawByte('{')
	first := true
	it.ReadObjectCB(func(i *jsoniter.Iterator, field string) bool {
		if transientHitFields[field] {
			i.Skip()
			return true
		}
		if !first {
			w.RawByte(',')
		}
		first = false
		w.String(field)
		w.RawByte(':')
		writeCompact(w, i.SkipAndReturnBytes())
		return true
	})
	w.RawString("}\n")
}

// writeCompact writes the raw JSON value v to w. Stored _source documents
// are returned verbatim and may span lines, so they are compacted to keep
// one document per line.
func writeCompact(w *fastjson.Writer, v []byte) {
	v = bytes.TrimSpace(v)
	if bytes.IndexAny(v, "\r\n") < 0 {
		w.RawBytes(v)
		return
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		w.RawBytes(v)
		return
	}
	w.RawBytes(buf.Bytes())
}

// scrollWorker pages through one slice of the export with a scroll context.
type scrollWorker struct {
	id       int
	exporter *Exporter
	query    PageQuery
	logger   *zap.Logger

	// link is the trace context Export was called with.
	link *runLink
	sink *pageWriter

	state  scrollState
	cursor ScrollCursor
	page   scrollResult
}

func newScrollWorker(e *Exporter, id int, query PageQuery, link *runLink, sink *pageWriter) *scrollWorker {
	return &scrollWorker{
		id:       id,
		exporter: e,
		query:    query,
		link:     link,
		sink:     sink,
		logger:   e.logger.With(zap.Int("worker", id)),
		cursor:   ScrollCursor{KeepAlive: e.config.ScrollKeepAlive},
	}
}

// run drives the worker until its slice is drained or a request fails.
func (w *scrollWorker) run(ctx context.Context) error {
	e := w.exporter
	if e.config.Tracer != nil && e.config.Tracer.Recording() {
		tx := e.config.Tracer.StartTransactionOptions("docstream.scroll", "input", w.link.apmOptions())
		tx.Context.SetLabel("worker", w.id)
		defer tx.End()
		ctx = apm.ContextWithTransaction(ctx, tx)
		w.logger = w.logger.With(apmzap.TraceContext(ctx)...)
	}
	attrs := metric.WithAttributeSet(e.config.MetricAttributes)
	e.metrics.activeScrolls.Add(context.Background(), 1, attrs)
	defer e.metrics.activeScrolls.Add(context.Background(), -1, attrs)

	for w.state != scrollDone {
		var err error
		switch w.state {
		case scrollInit:
			err = w.search(ctx)
		case scrollOpen:
			err = w.scroll(ctx)
		case scrollPage:
			err = w.consume(ctx)
		}
		if errors.Is(err, errExportAborted) {
			w.logger.Debug("scroll worker stopped after export failure")
			w.clear(ctx)
			return err
		}
		if err != nil {
			w.logger.Error("scroll worker failed", zap.Stringer("state", w.state), zap.Error(err))
			if e.config.Tracer != nil && e.config.Tracer.Recording() {
				apm.CaptureError(ctx, err).Send()
			}
			return err
		}
	}
	return nil
}

func (w *scrollWorker) search(ctx context.Context) error {
	body, err := w.query.MarshalJSON()
	if err != nil {
		return err
	}
	req := esapi.SearchRequest{
		Index:  []string{w.exporter.config.Index},
		Body:   bytes.NewReader(body),
		Scroll: w.cursor.KeepAlive,
	}
	return w.fetch(ctx, "search", req)
}

func (w *scrollWorker) scroll(ctx context.Context) error {
	req := esapi.ScrollRequest{Body: bytes.NewReader(w.cursorBody())}
	return w.fetch(ctx, "scroll", req)
}

func (w *scrollWorker) cursorBody() []byte {
	var jw fastjson.Writer
	jw.RawString(`{"scroll":`)
	jw.String(formatKeepAlive(w.cursor.KeepAlive))
	jw.RawString(`,"scroll_id":`)
	jw.String(w.cursor.ScrollID)
	jw.RawByte('}')
	return jw.Bytes()
}

// fetch performs req and moves the worker to scrollPage with its result.
func (w *scrollWorker) fetch(ctx context.Context, op string, req esapi.Request) error {
	e := w.exporter
	var span trace.Span
	if e.tracer != nil {
		opts := append(w.link.otelOptions(), trace.WithAttributes(
			attribute.Int("worker", w.id),
		))
		ctx, span = e.tracer.Start(ctx, "docstream."+op, opts...)
		defer span.End()
	}
	start := time.Now()
	page, err := w.do(ctx, op, req)
	attrs := metric.WithAttributeSet(e.config.MetricAttributes)
	e.metrics.scrollDuration.Record(context.Background(), time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("operation", op)), attrs,
	)
	if err != nil {
		if span != nil && span.IsRecording() {
			span.RecordError(err)
			span.SetStatus(codes.Error, op+" request failed")
		}
		return err
	}
	if span != nil && span.IsRecording() {
		span.SetAttributes(attribute.Int("hits", page.hits))
		span.SetStatus(codes.Ok, "")
	}
	w.page = page
	w.state = scrollPage
	return nil
}

func (w *scrollWorker) do(ctx context.Context, op string, req esapi.Request) (scrollResult, error) {
	res, err := req.Do(ctx, w.exporter.client)
	if err != nil {
		return scrollResult{}, &TransportError{Op: op, Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return scrollResult{}, newStatusError(op, res)
	}
	page, err := decodeScrollResult(res.Body)
	if err != nil {
		return scrollResult{}, &ProtocolError{Op: op, Reason: err.Error()}
	}
	return page, nil
}

// consume emits the current page, or closes the scroll once a page comes
// back empty.
func (w *scrollWorker) consume(ctx context.Context) error {
	e := w.exporter
	page := w.page
	w.page = scrollResult{}
	if page.scrollID != "" {
		w.cursor.ScrollID = page.scrollID
	}
	if page.hits == 0 {
		w.clear(ctx)
		w.state = scrollDone
		return nil
	}
	if page.scrollID == "" {
		return &ProtocolError{Op: "scroll", Reason: "missing _scroll_id in non-empty page"}
	}
	if err := w.sink.writePage(page.lines, page.hits); err != nil {
		return err
	}
	attrs := metric.WithAttributeSet(e.config.MetricAttributes)
	e.metrics.scrollPages.Add(context.Background(), 1, attrs)
	e.metrics.docsExported.Add(context.Background(), int64(page.hits), attrs)
	e.pages.Add(1)

	processed := e.counter.Increment(uint64(page.hits))
	w.logger.Info("Fetched another batch, have now processed " + strconv.FormatUint(processed, 10))
	w.state = scrollOpen
	return nil
}

// clear releases the scroll context. Elasticsearch expires it after the
// keep alive anyway, so failures are only logged.
func (w *scrollWorker) clear(ctx context.Context) {
	if w.cursor.ScrollID == "" {
		return
	}
	var jw fastjson.Writer
	jw.RawString(`{"scroll_id":`)
	jw.String(w.cursor.ScrollID)
	jw.RawByte('}')
	req := esapi.ClearScrollRequest{Body: bytes.NewReader(jw.Bytes())}
	res, err := req.Do(ctx, w.exporter.client)
	if err != nil {
		w.logger.Warn("failed to clear scroll", zap.Error(&TransportError{Op: "clear_scroll", Err: err}))
		return
	}
	defer res.Body.Close()
	if res.IsError() {
		w.logger.Warn("failed to clear scroll", zap.Error(newStatusError("clear_scroll", res)))
		return
	}
	w.cursor.ScrollID = ""
}

// formatKeepAlive renders d in Elasticsearch time units.
func formatKeepAlive(d time.Duration) string {
	switch {
	case d%time.Minute == 0:
		return strconv.FormatInt(int64(d/time.Minute), 10) + "m"
	case d%time.Second == 0:
		return strconv.FormatInt(int64(d/time.Second), 10) + "s"
	}
	return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
}
