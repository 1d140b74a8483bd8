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

package preflight

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/coreos/pkg/capnslog"
	"github.com/pkg/errors"
)

var plog = capnslog.NewPackageLogger("github.com/ridgeline-labs/vmtest", "preflight")

// GateResult is the reduced outcome of checking every artifact present
// under an artifact directory. Artifacts that don't exist are skipped,
// not failed — building the installed-initramfs is optional for some
// variants, and skipping a file that was never produced shouldn't
// block a run that never needed it.
type GateResult struct {
	LiveInitramfs    *Report
	InstallInitramfs *Report
	ISO              *Report
	OverallPass      bool
}

// allFailures flattens every failure line across the checked
// artifacts, in artifact order, for a single error message.
func (g *GateResult) allFailures() []string {
	var out []string
	for _, r := range []*Report{g.LiveInitramfs, g.InstallInitramfs, g.ISO} {
		if r != nil && !r.Passed {
			for _, f := range r.Failures {
				out = append(out, r.Name+": "+f)
			}
		}
	}
	return out
}

// Run checks whichever of the three well-known artifact names exist
// under artifactDir: "initramfs-live.cpio.gz", "initramfs-installed.img",
// and isoFilename (if non-empty; otherwise "install.iso").
func Run(artifactDir, isoFilename string) (*GateResult, error) {
	if isoFilename == "" {
		isoFilename = "install.iso"
	}

	result := &GateResult{OverallPass: true}

	livePath := filepath.Join(artifactDir, "initramfs-live.cpio.gz")
	if fileExists(livePath) {
		report, err := verifyArtifact(livePath, LiveInitramfs)
		if err != nil {
			return nil, err
		}
		result.LiveInitramfs = report
		if !report.Passed {
			result.OverallPass = false
		}
	}

	installPath := filepath.Join(artifactDir, "initramfs-installed.img")
	if fileExists(installPath) {
		report, err := verifyArtifact(installPath, InstallInitramfs)
		if err != nil {
			return nil, err
		}
		result.InstallInitramfs = report
		if !report.Passed {
			result.OverallPass = false
		}
	}

	isoPath := filepath.Join(artifactDir, isoFilename)
	if fileExists(isoPath) {
		report, err := verifyArtifact(isoPath, ISO)
		if err != nil {
			return nil, err
		}
		result.ISO = report
		if !report.Passed {
			result.OverallPass = false
		}
	} else {
		// The ISO is the one artifact that is never optional: without
		// it there is nothing for the VM Launcher to boot.
		result.OverallPass = false
		result.ISO = &Report{
			Name:     ISO.String(),
			Kind:     ISO,
			Passed:   false,
			Failures: []string{"ISO not found at " + isoPath},
		}
	}

	return result, nil
}

// Require runs Run and returns an error naming every failure if the
// gate did not pass. A failed preflight must prevent the VM from
// starting at all, so this is the function stage/session code calls.
func Require(artifactDir, isoFilename string) error {
	result, err := Run(artifactDir, isoFilename)
	if err != nil {
		return errors.Wrap(err, "running preflight checks")
	}

	if !result.OverallPass {
		failures := result.allFailures()
		plog.Errorf("preflight failed for %s: %d failure(s)", artifactDir, len(failures))
		return errors.Errorf(
			"preflight verification failed, refusing to start the VM:\n%s",
			strings.Join(failures, "\n"))
	}

	return nil
}

func verifyArtifact(path string, kind ArtifactKind) (*Report, error) {
	var contents []string
	var listErr error

	switch kind {
	case ISO:
		contents, listErr = listISOContents(path)
	default:
		contents, listErr = listCpioContents(path)
	}

	if listErr != nil {
		return &Report{
			Name:     kind.String(),
			Kind:     kind,
			Passed:   false,
			Failures: []string{listErr.Error()},
		}, nil
	}

	present := make(map[string]bool, len(contents))
	for _, p := range contents {
		present[p] = true
	}

	required := RequiredItems(kind)
	var failures []string
	found := 0
	for _, item := range required {
		if present[item] {
			found++
		} else {
			failures = append(failures, "missing required item: "+item)
		}
	}

	return &Report{
		Name:     kind.String(),
		Kind:     kind,
		Passed:   len(failures) == 0,
		Total:    len(required),
		Found:    found,
		Failures: failures,
	}, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
