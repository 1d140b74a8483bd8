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

// Command qmp drives the Machine-Protocol Client directly against a
// running guest's QMP control socket, for visual smoke tests only —
// it has no exit-code capture, so it must never substitute for the
// stages/install-tests verification path.
package main

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ridgeline-labs/vmtest/cli"
	"github.com/ridgeline-labs/vmtest/qmpclient"
)

var (
	socketDirFlag string
	outputDirFlag string

	root = &cobra.Command{
		Use:   "qmp",
		Short: "Machine-Protocol Client for visual smoke tests",
	}

	cmdRun = &cobra.Command{
		Use:   "run <command> [json-args]",
		Short: "Execute one raw QMP command against a running guest",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runRaw,

		SilenceUsage: true,
	}

	cmdSmoke = &cobra.Command{
		Use:   "smoke <text>",
		Short: "Type text into the guest and capture a screenshot",
		Args:  cobra.ExactArgs(1),
		RunE:  runSmoke,

		SilenceUsage: true,
	}
)

func init() {
	root.PersistentFlags().StringVar(&socketDirFlag, "socket-dir", ".", "directory containing qmp.sock")
	cmdSmoke.Flags().StringVar(&outputDirFlag, "output-dir", ".", "directory to write the screenshot to")

	root.AddCommand(cmdRun)
	root.AddCommand(cmdSmoke)
}

func main() {
	cli.Execute(root)
}

func dial() (*qmpclient.Client, error) {
	return qmpclient.Dial(socketDirFlag)
}

func runRaw(cmd *cobra.Command, args []string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	var arguments map[string]interface{}
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &arguments); err != nil {
			return errors.Wrap(err, "parsing json-args")
		}
	}

	result, err := c.Execute(args[0], arguments)
	if err != nil {
		return err
	}
	fmt.Println(string(result))
	return nil
}

func runSmoke(cmd *cobra.Command, args []string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	path, err := qmpclient.Smoke(c, outputDirFlag, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("screenshot written to %s\n", path)
	return nil
}
