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
	"bufio"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/elastic/go-docstream"
)

func newExportCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <source>",
		Short: "Export documents to stdout",
		Long: `Exports every document matching the query from the source cluster,
one JSON document per line. The source is a URI such as
http://localhost:9200/my-index; without an index, all indices are exported.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(v, cmd); err != nil {
				return err
			}
			return runExport(cmd, v, args[0])
		},
	}
	flags := cmd.Flags()
	flags.IntP("concurrency", "c", 1, "number of slices exported concurrently")
	flags.StringP("query", "q", docstream.DefaultFilter, "query selecting the documents, as a JSON object")
	flags.IntP("size", "s", docstream.DefaultSize, "number of documents per scroll page")
	flags.Duration("scroll", docstream.DefaultScrollKeepAlive, "how long to keep the scroll context alive between pages")
	flags.BoolP("compress", "z", false, "gzip the output")
	return cmd
}

func runExport(cmd *cobra.Command, v *viper.Viper, source string) error {
	s, err := newSession(cmd, v, source)
	if err != nil {
		return err
	}
	defer s.close()

	exporter, err := docstream.NewExporter(s.client, docstream.ExportConfig{
		Telemetry:       s.telemetry(),
		Index:           s.target.ExportIndex(),
		Query:           []byte(v.GetString("query")),
		Size:            v.GetInt("size"),
		Workers:         v.GetInt("concurrency"),
		ScrollKeepAlive: v.GetDuration("scroll"),
		Compress:        v.GetBool("compress"),
	})
	if err != nil {
		return err
	}

	out := bufio.NewWriterSize(cmd.OutOrStdout(), 64*1024)
	stats, err := exporter.Export(cmd.Context(), out)
	if ferr := out.Flush(); ferr != nil && err == nil {
		err = fmt.Errorf("failed to write output: %w", ferr)
	}
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	s.logger.Debug("export finished",
		zap.Int64("documents", stats.Exported),
		zap.Int64("pages", stats.Pages),
	)
	return nil
}
