// Copyright 2019 Red Hat
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command install-tests enumerates the Step Library's metadata. It
// deliberately does not run steps directly against an ad-hoc VM — the
// stages workflow owns session lifecycle (spawn, drive, preflight,
// state), and a standalone runner here would let a step's claims go
// unverified by that gating.
package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ridgeline-labs/vmtest/cli"
	"github.com/ridgeline-labs/vmtest/steps"
)

var root = &cobra.Command{
	Use:   "install-tests",
	Short: "Enumerate and (intentionally not) run the install/verify step library",
}

var cmdList = &cobra.Command{
	Use:   "list",
	Short: "List step metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, step := range steps.All() {
			fmt.Printf("%2d  phase %d  %-28s %s\n", step.Num(), step.Phase(), step.Name(), step.Ensures())
		}
		return nil
	},
	SilenceUsage: true,
}

var cmdRun = &cobra.Command{
	Use:   "run",
	Short: "Disabled — use the stages workflow instead",
	RunE: func(cmd *cobra.Command, args []string) error {
		return errors.New("install-tests run is disabled; steps only run as part of a gated stage " +
			"session — see `stages run --stage N`")
	},
	SilenceUsage: true,
}

func init() {
	root.AddCommand(cmdList)
	root.AddCommand(cmdRun)
}

func main() {
	cli.Execute(root)
}
