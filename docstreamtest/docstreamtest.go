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

// Package docstreamtest provides an in-memory Elasticsearch double for
// testing exports and imports.
package docstreamtest

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.elastic.co/apm/module/apmelasticsearch/v2"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
)

// Document is a single index action decoded from a /_bulk request.
type Document struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
}

// DecodeBulkRequest decodes a /_bulk request's body, returning the decoded
// documents and a response body reporting every document as created.
func DecodeBulkRequest(r *http.Request) ([]Document, esutil.BulkIndexerResponse) {
	var body io.Reader = r.Body
	switch r.Header.Get("Content-Encoding") {
	case "gzip":
		r, err := gzip.NewReader(body)
		if err != nil {
			panic(err)
		}
		defer r.Close()
		body = r
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var indexed []Document
	var result esutil.BulkIndexerResponse
	for scanner.Scan() {
		var action map[string]struct {
			Index string `json:"_index"`
			ID    string `json:"_id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &action); err != nil {
			panic(err)
		}
		var doc Document
		var actionType string
		for actionType = range action {
			doc.Index = action[actionType].Index
			doc.ID = action[actionType].ID
		}
		if !scanner.Scan() {
			panic("expected source")
		}

		doc.Source = append(json.RawMessage{}, scanner.Bytes()...)
		if !json.Valid(doc.Source) {
			panic(fmt.Errorf("invalid JSON: %s", doc.Source))
		}
		indexed = append(indexed, doc)

		item := esutil.BulkIndexerResponseItem{
			Index:      doc.Index,
			DocumentID: doc.ID,
			Status:     http.StatusCreated,
		}
		item.Shards.Total = 1
		item.Shards.Successful = 1
		result.Items = append(result.Items, map[string]esutil.BulkIndexerResponseItem{actionType: item})
	}
	return indexed, result
}

// NewMockElasticsearchClient returns an elasticsearch.Client which sends
// every request to handler.
func NewMockElasticsearchClient(t testing.TB, handler http.HandlerFunc) *elasticsearch.Client {
	config := NewMockElasticsearchClientConfig(t, handler)
	client, err := elasticsearch.NewClient(config)
	require.NoError(t, err)
	return client
}

// NewMockElasticsearchClientConfig starts an httptest.Server, and returns an
// elasticsearch.Config which sends every request to handler. The
// httptest.Server will be closed via t.Cleanup.
func NewMockElasticsearchClientConfig(t testing.TB, handler http.HandlerFunc) elasticsearch.Config {
	srv := httptest.NewServer(withProductHeader(handler))
	t.Cleanup(srv.Close)

	config := elasticsearch.Config{}
	config.Addresses = []string{srv.URL}
	config.DisableRetry = true
	config.Transport = apmelasticsearch.WrapRoundTripper(http.DefaultTransport)

	return config
}

// HandleBulk registers bulkHandler with mux for handling /_bulk requests,
// wrapping bulkHandler to conform with go-elasticsearch version checking.
func HandleBulk(mux *http.ServeMux, bulkHandler http.HandlerFunc) {
	mux.Handle("/_bulk", withProductHeader(bulkHandler))
}

func withProductHeader(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		h.ServeHTTP(w, r)
	})
}
