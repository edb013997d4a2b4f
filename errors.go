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
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var (
	// ErrInvalidTarget is wrapped by the ConfigError returned for cluster
	// URIs without a host or with a scheme other than http or https.
	ErrInvalidTarget = errors.New("invalid cluster target")

	// ErrInvalidFilter is wrapped by the ConfigError returned for query
	// filters which are not a JSON object.
	ErrInvalidFilter = errors.New("invalid query filter")

	// ErrInvalidConfig is wrapped by the ConfigError returned for any other
	// out of range configuration value.
	ErrInvalidConfig = errors.New("invalid configuration")

	errMissingID     = errors.New("missing document _id")
	errMissingIndex  = errors.New("missing document _index")
	errMissingSource = errors.New("missing document _source")
	errTrailingData  = errors.New("unexpected data after document")
)

// ConfigError is returned before any request is sent, when the run is
// configured with an unusable value.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configError(field string, sentinel error, format string, args ...any) error {
	return &ConfigError{
		Field: field,
		Err:   fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...)),
	}
}

// TransportError is returned when a request to Elasticsearch could not be
// performed, or when Elasticsearch answered with a non-2xx status.
type TransportError struct {
	// Op names the request, e.g. "search", "scroll", "bulk" or "refresh".
	Op string

	// StatusCode holds the response status, or 0 if no response was received.
	StatusCode int

	// Body holds the response body for non-2xx responses.
	Body string

	// Err holds the underlying error when no response was received.
	Err error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s request failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s request failed: [%d] %s", e.Op, e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// TooManyRequests reports whether Elasticsearch rejected the request with 429.
func (e *TransportError) TooManyRequests() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// newStatusError consumes the body of the non-2xx response res.
func newStatusError(op string, res *esapi.Response) *TransportError {
	terr := &TransportError{Op: op, StatusCode: res.StatusCode}
	if res.Body != nil {
		body, err := io.ReadAll(res.Body)
		if err != nil {
			terr.Err = fmt.Errorf("[%d] failed to read response body: %w", res.StatusCode, err)
		}
		terr.Body = string(bytes.TrimSpace(body))
	}
	return terr
}

// ProtocolError is returned when an Elasticsearch response does not have the
// expected shape, e.g. a scroll page without a scroll id.
type ProtocolError struct {
	Op     string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected %s response: %s", e.Op, e.Reason)
}

// ItemError describes a document rejected by Elasticsearch inside an
// otherwise successful bulk request. Item errors are logged and counted in
// ImportStats.Failed, and never fail an import.
type ItemError struct {
	// Batch is the sequence number of the batch holding the document.
	Batch int64
	Item  BulkIndexerResponseItem
}

func (e *ItemError) Error() string {
	return "err: " + e.Item.String()
}

// MalformedRecordError describes an import line which could not be turned
// into a bulk operation. These records are dropped unless the importer runs
// in strict mode.
type MalformedRecordError struct {
	// Line is the 1-based line number in the input stream.
	Line int64
	Err  error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record on line %d: %v", e.Line, e.Err)
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}
