// Copyright 2024 The DevStore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/devstore-io/devstore/pkg/config"
	"github.com/devstore-io/devstore/pkg/logutil"
)

var (
	cfgFile string
	cfg     *config.Config
)

func main() {
	root := &cobra.Command{
		Use:   "devstore",
		Short: "device-visible columnar chunk store",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfgFile != "" {
				cfg, err = config.Load(cfgFile)
			} else {
				cfg = config.Default()
				err = cfg.Validate()
			}
			if err != nil {
				return err
			}
			logutil.Setup(cfg.Log)
			return nil
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "TOML configuration file")
	root.AddCommand(newBenchCommand(), newRestoreCommand())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
