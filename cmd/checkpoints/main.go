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

// Command checkpoints is a legacy-named alias for the stages harness,
// kept for operators who still script against the old "checkpoint"
// vocabulary. It drives the same Orchestrator as cmd/stages, under
// --checkpoint instead of --stage.
package main

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/coreos/pkg/capnslog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ridgeline-labs/vmtest/cli"
	"github.com/ridgeline-labs/vmtest/distro"
	"github.com/ridgeline-labs/vmtest/stages"
)

var (
	plog = capnslog.NewPackageLogger("github.com/ridgeline-labs/vmtest", "checkpoints-cmd")

	root = &cobra.Command{
		Use:   "checkpoints",
		Short: "Legacy-named alias for the stages harness",
	}

	distroFlag      string
	checkpointFlag  int
	upToFlag        int
	statusFlag      bool
	resetFlag       bool
	artifactDirFlag string
	isoFlag         string
	baseDirFlag     string

	cmdRun = &cobra.Command{
		Use:          "run",
		Short:        "Run, report status on, or reset a variant's checkpoints",
		RunE:         runCheckpoints,
		SilenceUsage: true,
	}
)

func init() {
	root.PersistentFlags().StringVar(&distroFlag, "distro", "", "OS variant short id (required)")
	root.PersistentFlags().StringVar(&artifactDirFlag, "artifact-dir", ".", "directory holding the ISO and initramfs artifacts")
	root.PersistentFlags().StringVar(&isoFlag, "iso", "", "ISO filename within --artifact-dir (default install.iso)")
	root.PersistentFlags().StringVar(&baseDirFlag, "state-dir", ".", "directory the .stages/ state lives under")

	cmdRun.Flags().IntVar(&checkpointFlag, "checkpoint", -1, "run exactly one checkpoint (0-6)")
	cmdRun.Flags().IntVar(&upToFlag, "up-to", -1, "run checkpoints 0..=N in order")
	cmdRun.Flags().BoolVar(&statusFlag, "status", false, "print checkpoint status and exit")
	cmdRun.Flags().BoolVar(&resetFlag, "reset", false, "clear persisted checkpoint state for this variant")

	root.AddCommand(cmdRun)
}

func main() {
	cli.Execute(root)
}

func runCheckpoints(cmd *cobra.Command, args []string) error {
	if distroFlag == "" {
		return errors.New("--distro is required")
	}

	profile, err := distro.For(distroFlag)
	if err != nil {
		return err
	}
	o := &stages.Orchestrator{
		BaseDir:     baseDirFlag,
		ArtifactDir: artifactDirFlag,
		ISOFilename: isoFlag,
		VariantID:   profile.ShortID,
		Profile:     profile,
	}

	switch {
	case resetFlag:
		if err := o.Reset(); err != nil {
			return err
		}
		fmt.Printf("checkpoints reset for %s\n", distroFlag)
		return nil

	case statusFlag:
		lines, highest, stale := o.Status()
		if stale {
			fmt.Println("(stale — ISO rebuilt or missing, checkpoints will reset on next run)")
		}
		for _, l := range lines {
			mark := "[    ]"
			switch {
			case l.Passed:
				mark = "[PASS]"
			case l.HasRun:
				mark = "[FAIL]"
			}
			fmt.Printf("  %s %02d: %s\n", mark, l.Stage, l.Name)
		}
		fmt.Printf("\n  Highest passed: %d\n", highest)
		return nil

	case checkpointFlag >= 0:
		if checkpointFlag > 6 {
			return errors.Errorf("checkpoint must be 0-6, got %d", checkpointFlag)
		}
		passed, err := o.RunStage(checkpointFlag)
		return exitOn(passed, err)

	case upToFlag >= 0:
		if upToFlag > 6 {
			return errors.Errorf("--up-to must be 0-6, got %d", upToFlag)
		}
		passed, err := o.RunUpTo(upToFlag)
		return exitOn(passed, err)

	default:
		return errors.New("specify --checkpoint N, --up-to N, --status, or --reset")
	}
}

func exitOn(passed bool, err error) error {
	if err != nil {
		var sf *stages.StageFailure
		if stderrors.As(err, &sf) {
			fmt.Fprint(os.Stderr, sf.Error())
		}
		return err
	}
	if !passed {
		return errors.New("checkpoint did not pass")
	}
	return nil
}
