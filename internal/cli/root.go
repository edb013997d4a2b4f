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

// Package cli implements the docstream command line.
package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix is prepended to flag names to form their environment variable,
// e.g. DOCSTREAM_CONCURRENCY for --concurrency.
const envPrefix = "DOCSTREAM"

// version is set at build time with -ldflags.
var version = "dev"

// Execute runs the docstream command line with os.Args.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd returns the docstream command tree.
func NewRootCmd() *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "docstream",
		Short: "Stream documents between Elasticsearch and stdio",
		Long: `Exports the documents of an Elasticsearch cluster to stdout as
newline delimited JSON, and imports them back from stdin.

  docstream export http://localhost:9200/source | docstream import http://localhost:9200/target`,
		SilenceUsage:  true,
		SilenceErrors: true,
		// Anything but a known subcommand prints help.
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	addTelemetryFlags(cmd.PersistentFlags())
	cmd.AddCommand(
		newExportCmd(v),
		newImportCmd(v),
		newVersionCmd(),
	)
	return cmd
}

func addTelemetryFlags(flags *pflag.FlagSet) {
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", "console", "log format: console or json")
	flags.Bool("apm", false, "trace requests with Elastic APM, configured with ELASTIC_APM_* variables")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// bindFlags binds the flags of the running command, including inherited
// ones, to v. Export and import share flag names, so flags are only bound
// once the command to run is known.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	if err := v.BindPFlags(cmd.InheritedFlags()); err != nil {
		return err
	}
	return v.BindPFlags(cmd.Flags())
}
