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

// Package cli holds the logging and flag bootstrap shared by every
// binary under cmd/, so each one only has to define its own
// subcommands.
package cli

import (
	"os"

	"github.com/coreos/pkg/capnslog"
	"github.com/spf13/cobra"
)

var (
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number and exit.",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s version %s\n", cmd.Root().Name(), Version)
		},
	}

	logDebug   bool
	logVerbose bool
	logLevel   = capnslog.NOTICE

	plog = capnslog.NewPackageLogger("github.com/ridgeline-labs/vmtest", "cli")
)

// Execute wires up shared logging flags on root, runs it, and exits
// the process with cobra's reported status. It does not return.
func Execute(root *cobra.Command) {
	root.AddCommand(versionCmd)

	root.PersistentFlags().Var(&logLevel, "log-level", "Set global log level.")
	root.PersistentFlags().BoolVarP(&logVerbose, "verbose", "v", false, "Alias for --log-level=INFO")
	root.PersistentFlags().BoolVarP(&logDebug, "debug", "d", false, "Alias for --log-level=DEBUG")

	WrapPreRunE(root, func(cmd *cobra.Command, args []string) error {
		return nil
	})

	if err := root.Execute(); err != nil {
		plog.Fatal(err)
	}
	os.Exit(0)
}

func startLogging(cmd *cobra.Command) {
	switch {
	case logDebug:
		logLevel = capnslog.DEBUG
	case logVerbose:
		logLevel = capnslog.INFO
	}

	capnslog.SetFormatter(capnslog.NewStringFormatter(cmd.OutOrStderr()))
	capnslog.SetGlobalLogLevel(logLevel)

	plog.Infof("started logging at level %s", logLevel)
}

// PreRunEFunc is a cobra PersistentPreRunE-shaped hook.
type PreRunEFunc func(cmd *cobra.Command, args []string) error

// WrapPreRunE installs f as root's PersistentPreRunE, always running
// startLogging first — cobra only invokes the nearest ancestor's
// PersistentPreRun(E), so a subcommand defining its own would
// otherwise silently skip logging setup entirely.
func WrapPreRunE(root *cobra.Command, f PreRunEFunc) {
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		startLogging(cmd)
		return f(cmd, args)
	}
}
