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

package cli

import (
	"fmt"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.elastic.co/apm/module/apmelasticsearch/v2"
	"go.elastic.co/apm/v2"
	"go.uber.org/zap"

	"github.com/elastic/go-docstream"
)

// session holds what a subcommand needs to talk to a cluster.
type session struct {
	target docstream.ClusterTarget
	client *elasticsearch.Client
	logger *zap.Logger
	tracer *apm.Tracer
}

// newSession parses uri and sets up logging, tracing and the client. No
// request is sent.
func newSession(cmd *cobra.Command, v *viper.Viper, uri string) (*session, error) {
	target, err := docstream.ParseTarget(uri)
	if err != nil {
		return nil, err
	}
	var tracer *apm.Tracer
	if v.GetBool("apm") {
		tracer = apm.DefaultTracer()
	}
	logger, err := newLogger(cmd.ErrOrStderr(), v.GetString("log-level"), v.GetString("log-format"), tracer)
	if err != nil {
		return nil, err
	}
	client, err := newClient(target)
	if err != nil {
		return nil, err
	}
	return &session{
		target: target,
		client: client,
		logger: logger,
		tracer: tracer,
	}, nil
}

func (s *session) telemetry() docstream.Telemetry {
	return docstream.Telemetry{
		Logger: s.logger,
		Tracer: s.tracer,
	}
}

func (s *session) close() {
	_ = s.logger.Sync()
	if s.tracer != nil {
		s.tracer.Flush(nil)
	}
}

// newClient returns a client for target. Requests are never retried.
func newClient(target docstream.ClusterTarget) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{target.Host},
		DisableRetry: true,
		Transport:    apmelasticsearch.WrapRoundTripper(http.DefaultTransport),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}
	return client, nil
}
