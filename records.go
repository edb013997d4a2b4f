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
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"

	jsoniter "github.com/json-iterator/go"
)

// readLines returns the lines of r, without their line terminator. The
// sequence is single use: it reads r as it is iterated and stops after the
// first read error, which is yielded with a nil line.
func readLines(r io.Reader) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		br := bufio.NewReader(r)
		for {
			line, err := br.ReadBytes('\n')
			if len(line) > 0 {
				line = bytes.TrimRight(line, "\r\n")
				if !yield(line, nil) {
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(nil, fmt.Errorf("failed to read input: %w", err))
				}
				return
			}
		}
	}
}

// decodeRecord turns an exported document envelope into a bulk operation.
// The envelope must carry a non-empty string _id and a _source object. The
// operation targets index when it is non-empty, or the envelope's _index.
func decodeRecord(line []byte, index string) (BulkOperation, error) {
	it := jsoniter.ConfigFastest.BorrowIterator(line)
	defer jsoniter.ConfigFastest.ReturnIterator(it)

	if it.WhatIsNext() != jsoniter.ObjectValue {
		return BulkOperation{}, errors.New("expected a JSON object")
	}
	var op BulkOperation
	var hasID bool
	it.ReadObjectCB(func(i *jsoniter.Iterator, field string) bool {
		switch field {
		case "_id":
			if i.WhatIsNext() != jsoniter.StringValue {
				i.ReportError("decodeRecord", "_id must be a string")
				return false
			}
			op.ID = i.ReadString()
			hasID = op.ID != ""
		case "_index":
			if i.WhatIsNext() != jsoniter.StringValue {
				i.ReportError("decodeRecord", "_index must be a string")
				return false
			}
			if idx := i.ReadString(); index == "" {
				op.Index = idx
			}
		case "_source":
			if i.WhatIsNext() != jsoniter.ObjectValue {
				i.ReportError("decodeRecord", "_source must be an object")
				return false
			}
			op.Source = bytes.TrimSpace(i.SkipAndReturnBytes())
		default:
			i.Skip()
		}
		return true
	})
	if it.Error != nil {
		return BulkOperation{}, it.Error
	}
	// Only whitespace may follow the envelope. At the end of the line the
	// iterator reports io.EOF, anything else is trailing data.
	if it.WhatIsNext() != jsoniter.InvalidValue || !errors.Is(it.Error, io.EOF) {
		return BulkOperation{}, errTrailingData
	}
	if index != "" {
		op.Index = index
	}
	switch {
	case !hasID:
		return BulkOperation{}, errMissingID
	case op.Index == "":
		return BulkOperation{}, errMissingIndex
	case len(op.Source) == 0:
		return BulkOperation{}, errMissingSource
	}
	return op, nil
}
