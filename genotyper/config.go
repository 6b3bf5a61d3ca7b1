// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package genotyper

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes the environment variables read by LoadOpts.
const EnvPrefix = "GENOTYPE"

// ReadOpts overlays the YAML configuration in r on opts.  Unknown keys are
// rejected.
func ReadOpts(r io.Reader, opts *Opts) error {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return err
	}
	if err := yaml.UnmarshalStrict(data, opts); err != nil {
		return errors.E(errors.Invalid, fmt.Sprintf("bad configuration: %v", err))
	}
	return nil
}

// LoadOpts returns DefaultOpts, overlaid with the YAML file at path (if
// nonempty), then with any GENOTYPE_* environment variables.
func LoadOpts(ctx context.Context, path string) (opts Opts, err error) {
	opts = DefaultOpts
	if path != "" {
		var in file.File
		if in, err = file.Open(ctx, path); err != nil {
			return
		}
		defer file.CloseAndReport(ctx, in, &err)
		if err = ReadOpts(in.Reader(ctx), &opts); err != nil {
			err = errors.E(fmt.Sprintf("LoadOpts %s", path), err)
			return
		}
	}
	if e := envconfig.Process(EnvPrefix, &opts); e != nil {
		err = errors.E(errors.Invalid, fmt.Sprintf("environment: %v", e))
	}
	return
}
