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

// Package docstream provides streaming export and import of Elasticsearch
// documents to and from newline-delimited JSON streams.
//
// Export opens one scroll per worker over a sliced query and writes every
// hit, minus its ranking fields, as a line to an io.Writer. Import reads
// document envelopes line by line, groups them into fixed-size batches and
// sends them through a bounded number of concurrent bulk requests, before
// refreshing the target so the documents become searchable.
//
// The package is intended for pipeable backup and restore. It does not try
// to cover general query use cases, and it never retries failed requests.
package docstream
