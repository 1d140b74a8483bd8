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
	"testing"
)

func TestRequiredItemsIndependentCopies(t *testing.T) {
	a := RequiredItems(ISO)
	a[0] = "tampered"
	b := RequiredItems(ISO)
	if b[0] == "tampered" {
		t.Fatal("RequiredItems must return an independent copy, not a view into the shared checklist")
	}
}

func TestArtifactKindString(t *testing.T) {
	cases := map[ArtifactKind]string{
		LiveInitramfs:    "live initramfs",
		InstallInitramfs: "install initramfs",
		ISO:              "ISO",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", int(kind), got, want)
		}
	}
}

func TestRunMissingISOFailsOverall(t *testing.T) {
	dir := t.TempDir()

	result, err := Run(dir, "install.iso")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.OverallPass {
		t.Fatal("expected OverallPass=false when the ISO is missing entirely")
	}
	if result.ISO == nil || result.ISO.Passed {
		t.Fatal("expected a failing ISO report when the ISO file does not exist")
	}
}

func TestRunSkipsAbsentOptionalArtifacts(t *testing.T) {
	dir := t.TempDir()
	// Only the ISO exists; the initramfs files were never built for this
	// variant, which must be treated as skipped, not failed.
	if err := os.WriteFile(filepath.Join(dir, "install.iso"), []byte("not a real iso"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := Run(dir, "install.iso")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.LiveInitramfs != nil {
		t.Error("expected LiveInitramfs to be skipped (nil) when the file doesn't exist")
	}
	if result.InstallInitramfs != nil {
		t.Error("expected InstallInitramfs to be skipped (nil) when the file doesn't exist")
	}
	// The ISO itself will fail content verification (it isn't a real
	// ISO9660 image) but that's a distinct failure from "file missing".
	if result.ISO == nil {
		t.Fatal("expected an ISO report since the file exists")
	}
}
