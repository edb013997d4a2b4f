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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.elastic.co/apm/v2"
	"go.elastic.co/apm/v2/apmtest"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/elastic/go-docstream/docstreamtest"
)

func TestRunLinkFromContext(t *testing.T) {
	var nilLink *runLink
	assert.Nil(t, runLinkFromContext(context.Background()))
	assert.Empty(t, nilLink.otelOptions())
	assert.Empty(t, nilLink.apmOptions().Links)

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "outer")
	defer span.End()
	link := runLinkFromContext(ctx)
	require.NotNil(t, link)
	assert.True(t, link.otel)
	assert.Equal(t, [16]byte(span.SpanContext().TraceID()), link.TraceID)
	// OTel spans started from ctx are already children of the outer span.
	assert.Empty(t, link.otelOptions())
	assert.Len(t, link.apmOptions().Links, 1)

	tracer := apmtest.NewRecordingTracer()
	defer tracer.Close()
	tx := tracer.StartTransaction("outer", "request")
	defer tx.End()
	link = runLinkFromContext(apm.ContextWithTransaction(ctx, tx))
	require.NotNil(t, link)
	assert.False(t, link.otel)
	assert.Equal(t, [16]byte(tx.TraceContext().Trace), link.TraceID)
	assert.Len(t, link.otelOptions(), 1)
}

func TestImporterLinksCallerTransaction(t *testing.T) {
	cluster := docstreamtest.NewCluster()
	client := docstreamtest.NewMockElasticsearchClient(t, cluster.ServeHTTP)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	defer tp.Shutdown(context.Background())
	imp, err := NewImporter(client, ImportConfig{
		Telemetry: Telemetry{TracerProvider: tp},
	})
	require.NoError(t, err)

	tracer := apmtest.NewRecordingTracer()
	defer tracer.Close()
	tx := tracer.StartTransaction("outer", "request")
	tc := tx.TraceContext()
	ctx := apm.ContextWithTransaction(context.Background(), tx)
	_, err = imp.Import(ctx, strings.NewReader(`{"_index":"a","_id":"1","_source":{}}`))
	require.NoError(t, err)
	tx.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Links, 1)
	assert.Equal(t, trace.TraceID(tc.Trace), spans[0].Links[0].SpanContext.TraceID())
	assert.Equal(t, trace.SpanID(tc.Span), spans[0].Links[0].SpanContext.SpanID())
}
