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
	"io"

	"go.elastic.co/apm/module/apmzap/v2"
	"go.elastic.co/apm/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger returns a logger writing to w.
//
// The console format prints the bare message for info and above, so that
// progress and per-document error lines read as plain text. The json format
// prints every entry with its fields. When tracer is non-nil, errors are
// also reported to Elastic APM.
func newLogger(w io.Writer, level, format string, tracer *apm.Tracer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	sink := zapcore.Lock(zapcore.AddSync(w))

	var core zapcore.Core
	switch format {
	case "console":
		encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			MessageKey: "message",
			LineEnding: zapcore.DefaultLineEnding,
		})
		core = &plainCore{Core: zapcore.NewCore(encoder, sink, lvl)}
	case "json":
		config := zap.NewProductionEncoderConfig()
		config.EncodeTime = zapcore.ISO8601TimeEncoder
		core = zapcore.NewCore(zapcore.NewJSONEncoder(config), sink, lvl)
	default:
		return nil, fmt.Errorf("invalid log format %q: expected console or json", format)
	}

	var opts []zap.Option
	if tracer != nil {
		apmCore := &apmzap.Core{Tracer: tracer}
		opts = append(opts, zap.WrapCore(apmCore.WrapCore))
	}
	return zap.New(core, opts...), nil
}

// plainCore drops structured fields from entries at info level and above.
type plainCore struct {
	zapcore.Core
	fields []zapcore.Field
}

func (c *plainCore) With(fields []zapcore.Field) zapcore.Core {
	return &plainCore{
		Core:   c.Core,
		fields: append(c.fields[:len(c.fields):len(c.fields)], fields...),
	}
}

func (c *plainCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *plainCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if ent.Level >= zapcore.InfoLevel {
		return c.Core.Write(ent, nil)
	}
	return c.Core.Write(ent, append(c.fields[:len(c.fields):len(c.fields)], fields...))
}
