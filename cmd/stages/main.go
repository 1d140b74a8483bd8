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

// Command stages drives the Stage 0-6 installation test harness for
// one OS variant at a time.
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
	plog = capnslog.NewPackageLogger("github.com/ridgeline-labs/vmtest", "stages-cmd")

	root = &cobra.Command{
		Use:   "stages",
		Short: "Run the Stage 0-6 installation test harness",
	}

	distroFlag      string
	stageFlag       int
	upToFlag        int
	statusFlag      bool
	resetFlag       bool
	interactiveFlag bool
	artifactDirFlag string
	isoFlag         string
	baseDirFlag     string

	cmdRun = &cobra.Command{
		Use:          "run",
		Short:        "Run, report status on, or reset a variant's stages",
		RunE:         runStages,
		SilenceUsage: true,
	}
)

func init() {
	root.PersistentFlags().StringVar(&distroFlag, "distro", "", "OS variant short id (required)")
	root.PersistentFlags().StringVar(&artifactDirFlag, "artifact-dir", ".", "directory holding the ISO and initramfs artifacts")
	root.PersistentFlags().StringVar(&isoFlag, "iso", "", "ISO filename within --artifact-dir (default install.iso)")
	root.PersistentFlags().StringVar(&baseDirFlag, "state-dir", ".", "directory the .stages/ state lives under")

	cmdRun.Flags().IntVar(&stageFlag, "stage", -1, "run exactly one stage")
	cmdRun.Flags().IntVar(&upToFlag, "up-to", -1, "run stages 0..=N in order")
	cmdRun.Flags().BoolVar(&statusFlag, "status", false, "print stage status and exit")
	cmdRun.Flags().BoolVar(&resetFlag, "reset", false, "clear persisted stage state for this variant")
	cmdRun.Flags().BoolVar(&interactiveFlag, "interactive", false, "after --stage boots (stages 1-2 only), hand the terminal to the operator")

	root.AddCommand(cmdRun)
}

func main() {
	cli.Execute(root)
}

func orchestratorFor(variantID string) (*stages.Orchestrator, *distro.Profile, error) {
	profile, err := distro.For(variantID)
	if err != nil {
		return nil, nil, err
	}
	return &stages.Orchestrator{
		BaseDir:     baseDirFlag,
		ArtifactDir: artifactDirFlag,
		ISOFilename: isoFlag,
		VariantID:   profile.ShortID,
		Profile:     profile,
	}, profile, nil
}

func runStages(cmd *cobra.Command, args []string) error {
	if distroFlag == "" {
		return errors.New("--distro is required")
	}

	o, _, err := orchestratorFor(distroFlag)
	if err != nil {
		return err
	}

	switch {
	case resetFlag:
		if err := o.Reset(); err != nil {
			return err
		}
		fmt.Printf("stages reset for %s\n", distroFlag)
		return nil

	case statusFlag:
		return printStatus(o)

	case interactiveFlag && stageFlag >= 0:
		return o.Interactive(stageFlag)

	case stageFlag >= 0:
		passed, err := o.RunStage(stageFlag)
		return exitOn(passed, err)

	case upToFlag >= 0:
		passed, err := o.RunUpTo(upToFlag)
		return exitOn(passed, err)

	default:
		return errors.New("one of --stage, --up-to, --status, or --reset is required")
	}
}

func printStatus(o *stages.Orchestrator) error {
	lines, highest, stale := o.Status()
	if stale {
		fmt.Println("(stale — ISO rebuilt or missing, stages will reset on next run)")
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
}

// exitOn converts a stage outcome into cobra's error-means-nonzero-exit
// convention: a *stages.StageFailure prints its own "common causes"
// block before propagating, matching spec.md's failure-block
// requirement.
func exitOn(passed bool, err error) error {
	if err != nil {
		var sf *stages.StageFailure
		if stderrors.As(err, &sf) {
			fmt.Fprint(os.Stderr, sf.Error())
		}
		return err
	}
	if !passed {
		return errors.New("stage did not pass")
	}
	return nil
}
