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
	"net/url"
	"strings"
)

// AllIndices is the index expression used when a target has no fixed index,
// for exports and for the final refresh of an import.
const AllIndices = "_all"

// ClusterTarget identifies a cluster and, optionally, a single index in it.
type ClusterTarget struct {
	// Host holds the scheme, host and port of the cluster, without any path.
	Host string

	// Index holds the fixed index, or "" when none was given.
	Index string
}

// HasIndex reports whether the target names a fixed index.
func (t ClusterTarget) HasIndex() bool {
	return t.Index != ""
}

// ExportIndex returns the index expression to search on export.
func (t ClusterTarget) ExportIndex() string {
	if t.Index == "" {
		return AllIndices
	}
	return t.Index
}

// ParseTarget parses a URI such as http://localhost:9200/my-index into a
// ClusterTarget. The path, stripped of slashes, is used as the fixed index.
//
// When the path is empty, exports read from every index and imports take the
// index from each record's _index field.
func ParseTarget(uri string) (ClusterTarget, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return ClusterTarget{}, configError("target", ErrInvalidTarget, "%v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ClusterTarget{}, configError("target", ErrInvalidTarget,
			"unsupported scheme %q in %q", u.Scheme, uri,
		)
	}
	if u.Host == "" {
		return ClusterTarget{}, configError("target", ErrInvalidTarget, "missing host in %q", uri)
	}
	index := strings.TrimSpace(strings.Trim(u.Path, "/"))
	host := url.URL{Scheme: u.Scheme, User: u.User, Host: u.Host}
	return ClusterTarget{
		Host:  strings.TrimSuffix(host.String(), "/"),
		Index: index,
	}, nil
}
