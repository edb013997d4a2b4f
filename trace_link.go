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

	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/trace"
)

// runLink identifies the trace an export or import was started from. Scroll
// workers and bulk requests are traced as transactions of their own, linked
// back to it.
type runLink struct {
	TraceID [16]byte
	SpanID  [8]byte
	// otel is set when the link was taken from an OTel span, which is
	// already the parent of any OTel span started from the same context.
	otel bool
}

func (l *runLink) apmOptions() apm.TransactionOptions {
	if l == nil {
		return apm.TransactionOptions{}
	}
	return apm.TransactionOptions{
		Links: []apm.SpanLink{{Trace: l.TraceID, Span: l.SpanID}},
	}
}

func (l *runLink) otelOptions() []trace.SpanStartOption {
	if l == nil || l.otel {
		return nil
	}
	return []trace.SpanStartOption{trace.WithLinks(trace.Link{
		SpanContext: trace.NewSpanContext(trace.SpanContextConfig{
			TraceID: l.TraceID,
			SpanID:  l.SpanID,
		}),
	})}
}

// runLinkFromContext returns the trace context active in ctx, preferring an
// Elastic APM transaction over an OTel span, or nil if there is none.
func runLinkFromContext(ctx context.Context) *runLink {
	if tx := apm.TransactionFromContext(ctx); tx != nil {
		tc := tx.TraceContext()
		if err := tc.Trace.Validate(); err == nil {
			return &runLink{TraceID: tc.Trace, SpanID: tc.Span}
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() && sc.HasSpanID() {
		return &runLink{TraceID: sc.TraceID(), SpanID: sc.SpanID(), otel: true}
	}
	return nil
}
