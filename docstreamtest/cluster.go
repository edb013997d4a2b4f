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
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// SearchBody is the subset of a search request body understood by Cluster.
type SearchBody struct {
	Query json.RawMessage `json:"query"`
	Size  int             `json:"size"`
	Sort  []string        `json:"sort"`
	Slice *struct {
		ID  int `json:"id"`
		Max int `json:"max"`
	} `json:"slice,omitempty"`
}

// Cluster is an in-memory stand-in for an Elasticsearch cluster, supporting
// sliced scroll searches, bulk indexing and refreshes. Queries are ignored:
// every search matches all documents of the requested indices.
//
// The exported fields configure failure injection, and must be set before
// the cluster serves requests.
type Cluster struct {
	// BulkStatus, if non-nil, is called with the 1-based sequence number of
	// each bulk request. A non-zero return value is sent as the response
	// status, and the request is not applied.
	BulkStatus func(seq int) int

	// RejectDocument, if non-nil, is called for each document of a bulk
	// request. A non-empty return value rejects the document with that
	// error type.
	RejectDocument func(doc Document) string

	// BulkDelay delays every bulk response.
	BulkDelay time.Duration

	// OmitScrollID removes _scroll_id from every search and scroll response.
	OmitScrollID bool

	mux *http.ServeMux

	mu         sync.Mutex
	indices    map[string]map[string]json.RawMessage
	scrolls    map[string]*scrollContext
	nextScroll int
	searches   []SearchBody
	cleared    []string
	refreshed  []string
	bulks      [][]Document

	bulkSeq     atomic.Int64
	inflight    atomic.Int64
	maxInflight atomic.Int64
}

type scrollContext struct {
	size int
	rest []hit
}

type hit struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Score  float64         `json:"_score"`
	Source json.RawMessage `json:"_source"`
	Sort   []int           `json:"sort"`
}

// NewCluster returns an empty Cluster.
func NewCluster() *Cluster {
	c := &Cluster{
		indices: make(map[string]map[string]json.RawMessage),
		scrolls: make(map[string]*scrollContext),
	}
	c.mux = http.NewServeMux()
	c.mux.HandleFunc("/{index}/_search", c.handleSearch)
	c.mux.HandleFunc("POST /_search/scroll", c.handleScroll)
	c.mux.HandleFunc("GET /_search/scroll", c.handleScroll)
	c.mux.HandleFunc("DELETE /_search/scroll", c.handleClearScroll)
	c.mux.HandleFunc("/{index}/_refresh", c.handleRefresh)
	HandleBulk(c.mux, c.handleBulk)
	return c
}

// Put stores source under index and id, replacing any existing document.
func (c *Cluster) Put(index, id string, source json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(index, id, source)
}

func (c *Cluster) put(index, id string, source json.RawMessage) {
	docs, ok := c.indices[index]
	if !ok {
		docs = make(map[string]json.RawMessage)
		c.indices[index] = docs
	}
	docs[id] = append(json.RawMessage(nil), source...)
}

// Documents returns a copy of the documents in index, keyed by id.
func (c *Cluster) Documents(index string) map[string]json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]json.RawMessage, len(c.indices[index]))
	for id, source := range c.indices[index] {
		out[id] = source
	}
	return out
}

// Searches returns the bodies of the initial search requests received.
func (c *Cluster) Searches() []SearchBody {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SearchBody(nil), c.searches...)
}

// OpenScrolls returns the number of scroll contexts not yet cleared.
func (c *Cluster) OpenScrolls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.scrolls)
}

// ClearedScrolls returns the scroll ids released by clear scroll requests.
func (c *Cluster) ClearedScrolls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.cleared...)
}

// Refreshed returns the index expressions of the refresh requests received.
func (c *Cluster) Refreshed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.refreshed...)
}

// Bulks returns the documents of every applied bulk request, in the order
// the requests completed.
func (c *Cluster) Bulks() [][]Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]Document(nil), c.bulks...)
}

// BulkRequests returns the number of bulk requests received, including
// failed ones.
func (c *Cluster) BulkRequests() int {
	return int(c.bulkSeq.Load())
}

// MaxInflightBulk returns the highest number of bulk requests observed
// being served at the same time.
func (c *Cluster) MaxInflightBulk() int {
	return int(c.maxInflight.Load())
}

// ServeHTTP serves the cluster's API.
func (c *Cluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	c.mux.ServeHTTP(w, r)
}

func (c *Cluster) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body SearchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "parsing_exception", err.Error())
		return
	}
	if body.Size <= 0 {
		body.Size = 10
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.searches = append(c.searches, body)

	var matched []hit
	for _, index := range c.resolve(r.PathValue("index")) {
		ids := make([]string, 0, len(c.indices[index]))
		for id := range c.indices[index] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			matched = append(matched, hit{Index: index, ID: id, Score: 1, Source: c.indices[index][id]})
		}
	}
	if body.Slice != nil && body.Slice.Max > 1 {
		var sliced []hit
		for i, h := range matched {
			if i%body.Slice.Max == body.Slice.ID {
				sliced = append(sliced, h)
			}
		}
		matched = sliced
	}
	for i := range matched {
		matched[i].Sort = []int{i}
	}

	c.nextScroll++
	scrollID := "scroll-" + strconv.Itoa(c.nextScroll)
	page, rest := splitPage(matched, body.Size)
	c.scrolls[scrollID] = &scrollContext{size: body.Size, rest: rest}
	c.writePage(w, scrollID, page)
}

// resolve expands an index expression into the known indices, sorted.
func (c *Cluster) resolve(expr string) []string {
	var out []string
	for _, name := range strings.Split(expr, ",") {
		if name == "_all" || name == "*" {
			out = out[:0]
			for index := range c.indices {
				out = append(out, index)
			}
			break
		}
		if _, ok := c.indices[name]; ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (c *Cluster) handleScroll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Scroll   string `json:"scroll"`
		ScrollID string `json:"scroll_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "parsing_exception", err.Error())
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sc, ok := c.scrolls[body.ScrollID]
	if !ok {
		writeError(w, http.StatusNotFound, "search_context_missing_exception", "No search context found for id ["+body.ScrollID+"]")
		return
	}
	var page []hit
	page, sc.rest = splitPage(sc.rest, sc.size)
	c.writePage(w, body.ScrollID, page)
}

func (c *Cluster) writePage(w http.ResponseWriter, scrollID string, page []hit) {
	resp := map[string]any{
		"took":      1,
		"timed_out": false,
		"hits": map[string]any{
			"total":     map[string]any{"value": len(page), "relation": "gte"},
			"max_score": 1.0,
			"hits":      append([]hit{}, page...),
		},
	}
	if !c.OmitScrollID {
		resp["_scroll_id"] = scrollID
	}
	writeJSON(w, http.StatusOK, resp)
}

func splitPage(hits []hit, size int) ([]hit, []hit) {
	if size > len(hits) {
		size = len(hits)
	}
	return hits[:size], hits[size:]
}

func (c *Cluster) handleClearScroll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ScrollID json.RawMessage `json:"scroll_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "parsing_exception", err.Error())
		return
	}
	var ids []string
	if err := json.Unmarshal(body.ScrollID, &ids); err != nil {
		var id string
		if err := json.Unmarshal(body.ScrollID, &id); err != nil {
			writeError(w, http.StatusBadRequest, "parsing_exception", err.Error())
			return
		}
		ids = []string{id}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var freed int
	for _, id := range ids {
		if _, ok := c.scrolls[id]; ok {
			delete(c.scrolls, id)
			c.cleared = append(c.cleared, id)
			freed++
		}
	}
	status := http.StatusOK
	if freed == 0 {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]any{"succeeded": freed > 0, "num_freed": freed})
}

func (c *Cluster) handleRefresh(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.refreshed = append(c.refreshed, r.PathValue("index"))
	c.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"_shards": map[string]int{"total": 1, "successful": 1, "failed": 0},
	})
}

func (c *Cluster) handleBulk(w http.ResponseWriter, r *http.Request) {
	seq := int(c.bulkSeq.Add(1))
	n := c.inflight.Add(1)
	defer c.inflight.Add(-1)
	for {
		cur := c.maxInflight.Load()
		if n <= cur || c.maxInflight.CompareAndSwap(cur, n) {
			break
		}
	}
	if c.BulkDelay > 0 {
		time.Sleep(c.BulkDelay)
	}

	docs, result := DecodeBulkRequest(r)
	if c.BulkStatus != nil {
		if status := c.BulkStatus(seq); status != 0 {
			writeError(w, status, "es_rejected_execution_exception", "rejected bulk request "+strconv.Itoa(seq))
			return
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, doc := range docs {
		if c.RejectDocument != nil {
			if errType := c.RejectDocument(doc); errType != "" {
				result.HasErrors = true
				for action, item := range result.Items[i] {
					item.Status = http.StatusBadRequest
					item.Shards.Successful = 0
					item.Shards.Failed = 1
					item.Error.Type = errType
					item.Error.Reason = "rejected document " + doc.ID
					result.Items[i][action] = item
				}
				continue
			}
		}
		c.put(doc.Index, doc.ID, doc.Source)
	}
	c.bulks = append(c.bulks, docs)
	writeJSON(w, http.StatusOK, result)
}

// Stats summarises the indexed documents.
func (c *Cluster) Stats() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.indices))
	for index, docs := range c.indices {
		out[index] = len(docs)
	}
	return out
}

func writeError(w http.ResponseWriter, status int, errType, reason string) {
	writeJSON(w, status, map[string]any{
		"error":  map[string]any{"type": errType, "reason": reason},
		"status": status,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
