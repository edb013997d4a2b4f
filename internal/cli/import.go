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

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/elastic/go-docstream"
)

func newImportCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <target>",
		Short: "Import documents from stdin",
		Long: `Imports documents read from stdin, one exported document per line,
into the target cluster. The target is a URI such as
http://localhost:9200/my-index; without an index, each document is written
to the index it was exported from.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(v, cmd); err != nil {
				return err
			}
			return runImport(cmd, v, args[0])
		},
	}
	flags := cmd.Flags()
	flags.IntP("concurrency", "c", 1, "maximum number of bulk requests in flight")
	flags.IntP("size", "s", docstream.DefaultSize, "number of documents per bulk request")
	flags.BoolP("compressed", "z", false, "read gzipped input")
	flags.Int("compression-level", gzip.NoCompression, "gzip level of bulk request bodies, -1 to 9")
	flags.Bool("strict", false, "fail on the first malformed input line instead of skipping it")
	return cmd
}

func runImport(cmd *cobra.Command, v *viper.Viper, target string) error {
	s, err := newSession(cmd, v, target)
	if err != nil {
		return err
	}
	defer s.close()

	importer, err := docstream.NewImporter(s.client, docstream.ImportConfig{
		Telemetry:        s.telemetry(),
		Index:            s.target.Index,
		Size:             v.GetInt("size"),
		Concurrency:      v.GetInt("concurrency"),
		CompressionLevel: v.GetInt("compression-level"),
		Compressed:       v.GetBool("compressed"),
		Strict:           v.GetBool("strict"),
	})
	if err != nil {
		return err
	}

	stats, err := importer.Import(cmd.Context(), cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	s.logger.Debug("import finished",
		zap.Int64("read", stats.Read),
		zap.Int64("dropped", stats.Dropped),
		zap.Int64("indexed", stats.Indexed),
		zap.Int64("failed", stats.Failed),
		zap.Int64("batches", stats.Batches),
	)
	return nil
}
