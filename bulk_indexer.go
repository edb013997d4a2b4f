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
	"errors"
	"fmt"
	"io"
	"net/http"
	"unsafe"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"go.elastic.co/fastjson"
)

// BulkIndexerConfig holds configuration for BulkIndexer.
type BulkIndexerConfig struct {
	// Client holds the Elasticsearch client.
	Client esapi.Transport

	// CompressionLevel holds the gzip compression level, from 0 (gzip.NoCompression)
	// to 9 (gzip.BestCompression). Higher values provide greater compression, at a
	// greater cost of CPU. The special value -1 (gzip.DefaultCompression) selects the
	// default compression level.
	CompressionLevel int
}

// Validate checks the configuration for errors.
func (cfg BulkIndexerConfig) Validate() error {
	if cfg.Client == nil {
		return errors.New("client is nil")
	}
	if cfg.CompressionLevel < -1 || cfg.CompressionLevel > 9 {
		return fmt.Errorf(
			"expected CompressionLevel in range [-1,9], got %d",
			cfg.CompressionLevel,
		)
	}
	return nil
}

// BulkIndexer encodes bulk operations into a single _bulk request body and
// sends it with Flush. A BulkIndexer is not safe for concurrent use; share
// them between goroutines through a BulkIndexerPool.
type BulkIndexer struct {
	config       BulkIndexerConfig
	itemsAdded   int
	bytesFlushed int
	jsonw        fastjson.Writer
	writer       io.Writer
	gzipw        *gzip.Writer
	buf          bytes.Buffer
}

// BulkOperation is a single index action: Source is written to Index under
// the document id ID, replacing any existing document.
type BulkOperation struct {
	Index  string
	ID     string
	Source jsoniter.RawMessage
}

// BulkIndexerResponseStat summarises the response to a _bulk request.
type BulkIndexerResponseStat struct {
	// Indexed holds the number of documents written successfully.
	Indexed int64

	// FailedDocs holds the items which failed, in request order.
	FailedDocs []BulkIndexerResponseItem
}

// BulkIndexerResponseItem represents the Elasticsearch response item.
type BulkIndexerResponseItem struct {
	Index  string `json:"_index"`
	ID     string `json:"_id"`
	Status int    `json:"status"`

	// Position holds the index of the item in the request.
	Position int `json:"-"`

	Shards struct {
		Failed int `json:"failed"`
	} `json:"_shards"`

	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

// Failed reports whether the document was not written to every shard copy.
func (item BulkIndexerResponseItem) Failed() bool {
	return item.Error.Type != "" || item.Status >= http.StatusMultipleChoices || item.Shards.Failed > 0
}

// String returns the item encoded as JSON.
func (item BulkIndexerResponseItem) String() string {
	var w fastjson.Writer
	w.RawString(`{"_index":`)
	w.String(item.Index)
	w.RawString(`,"_id":`)
	w.String(item.ID)
	w.RawString(`,"status":`)
	w.Int64(int64(item.Status))
	w.RawString(`,"_shards":{"failed":`)
	w.Int64(int64(item.Shards.Failed))
	w.RawByte('}')
	if item.Error.Type != "" {
		w.RawString(`,"error":{"type":`)
		w.String(item.Error.Type)
		w.RawString(`,"reason":`)
		w.String(item.Error.Reason)
		w.RawByte('}')
	}
	w.RawByte('}')
	return string(w.Bytes())
}

func init() {
	jsoniter.RegisterTypeDecoderFunc("docstream.BulkIndexerResponseStat", func(ptr unsafe.Pointer, iter *jsoniter.Iterator) {
		stat := (*BulkIndexerResponseStat)(ptr)
		iter.ReadObjectCB(func(i *jsoniter.Iterator, s string) bool {
			if s != "items" {
				i.Skip()
				return true
			}
			var idx int
			i.ReadArrayCB(func(i *jsoniter.Iterator) bool {
				return i.ReadMapCB(func(i *jsoniter.Iterator, action string) bool {
					var item BulkIndexerResponseItem
					i.ReadObjectCB(func(i *jsoniter.Iterator, s string) bool {
						switch s {
						case "_index":
							item.Index = i.ReadString()
						case "_id":
							item.ID = i.ReadString()
						case "status":
							item.Status = i.ReadInt()
						case "_shards":
							i.ReadObjectCB(func(i *jsoniter.Iterator, s string) bool {
								if s == "failed" {
									item.Shards.Failed = i.ReadInt()
								} else {
									i.Skip()
								}
								return true
							})
						case "error":
							i.ReadObjectCB(func(i *jsoniter.Iterator, s string) bool {
								switch s {
								case "type":
									item.Error.Type = i.ReadString()
								case "reason":
									item.Error.Reason = i.ReadString()
								default:
									i.Skip()
								}
								return true
							})
						default:
							i.Skip()
						}
						return true
					})
					item.Position = idx
					idx++
					if item.Failed() {
						stat.FailedDocs = append(stat.FailedDocs, item)
					} else {
						stat.Indexed++
					}
					return true
				})
			})
			return true
		})
	})
}

// NewBulkIndexer returns a bulk indexer that issues bulk requests to Elasticsearch.
// It is only tested with v8 go-elasticsearch client. Use other clients at your own risk.
func NewBulkIndexer(cfg BulkIndexerConfig) (*BulkIndexer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newBulkIndexer(cfg), nil
}

func newBulkIndexer(cfg BulkIndexerConfig) *BulkIndexer {
	b := &BulkIndexer{config: cfg}
	if cfg.CompressionLevel != gzip.NoCompression {
		b.gzipw, _ = gzip.NewWriterLevel(&b.buf, cfg.CompressionLevel)
		b.writer = b.gzipw
	} else {
		b.writer = &b.buf
	}
	return b
}

func (b *BulkIndexer) resetBuf() {
	b.itemsAdded = 0
	b.buf.Reset()
	if b.gzipw != nil {
		b.gzipw.Reset(&b.buf)
	}
}

// Items returns the number of buffered items.
func (b *BulkIndexer) Items() int {
	return b.itemsAdded
}

// Len returns the number of buffered bytes.
func (b *BulkIndexer) Len() int {
	return b.buf.Len()
}

// BytesFlushed returns the number of bytes sent by the last Flush.
func (b *BulkIndexer) BytesFlushed() int {
	return b.bytesFlushed
}

// Add encodes op in the buffer.
func (b *BulkIndexer) Add(op BulkOperation) error {
	if op.Index == "" {
		return errMissingIndex
	}
	if len(op.Source) == 0 {
		return errMissingSource
	}
	if err := b.writeMeta(op.Index, op.ID); err != nil {
		return fmt.Errorf("failed to write bulk action: %w", err)
	}
	if _, err := b.writer.Write(op.Source); err != nil {
		return fmt.Errorf("failed to write bulk operation source: %w", err)
	}
	if _, err := b.writer.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	b.itemsAdded++
	return nil
}

func (b *BulkIndexer) writeMeta(index, documentID string) error {
	b.jsonw.RawString(`{"index":{"_index":`)
	b.jsonw.String(index)
	if documentID != "" {
		b.jsonw.RawString(`,"_id":`)
		b.jsonw.String(documentID)
	}
	b.jsonw.RawString("}}\n")
	_, err := b.writer.Write(b.jsonw.Bytes())
	b.jsonw.Reset()
	return err
}

// Flush executes a bulk request if there are any items buffered, and clears
// out the buffer.
//
// A non-nil error means the request as a whole failed: it could not be sent,
// Elasticsearch answered with a non-2xx status, or the response could not be
// decoded. Failures of individual documents are reported in FailedDocs.
func (b *BulkIndexer) Flush(ctx context.Context) (BulkIndexerResponseStat, error) {
	if b.itemsAdded == 0 {
		return BulkIndexerResponseStat{}, nil
	}
	defer b.resetBuf()

	if b.gzipw != nil {
		if err := b.gzipw.Close(); err != nil {
			return BulkIndexerResponseStat{}, fmt.Errorf("failed closing the gzip writer: %w", err)
		}
	}

	req := esapi.BulkRequest{
		Body:   &b.buf,
		Header: make(http.Header),
		FilterPath: []string{
			"items.*._index", "items.*._id", "items.*.status",
			"items.*._shards.failed", "items.*.error.type", "items.*.error.reason",
		},
	}
	if b.gzipw != nil {
		req.Header.Set("Content-Encoding", "gzip")
	}

	bytesFlushed := b.buf.Len()
	res, err := req.Do(ctx, b.config.Client)
	if err != nil {
		return BulkIndexerResponseStat{}, &TransportError{Op: "bulk", Err: err}
	}
	defer res.Body.Close()

	// Record the number of flushed bytes only when err == nil. The body may
	// not have been sent otherwise.
	b.bytesFlushed = bytesFlushed
	var resp BulkIndexerResponseStat
	if res.IsError() {
		return resp, newStatusError("bulk", res)
	}
	if err := jsoniter.NewDecoder(res.Body).Decode(&resp); err != nil {
		return resp, &ProtocolError{Op: "bulk", Reason: err.Error()}
	}
	return resp, nil
}
