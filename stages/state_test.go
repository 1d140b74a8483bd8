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

package stages

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v2"
)

func touchISO(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "install.iso")
	if err := os.WriteFile(path, []byte("iso"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingStateIsEmpty(t *testing.T) {
	dir := t.TempDir()
	s := Load(dir, "fedora")
	if s.HighestPassed() != 0 {
		t.Fatalf("HighestPassed() on a fresh state = %d, want 0", s.HighestPassed())
	}
	if s.HasPassed(0) {
		t.Fatal("a fresh state must not report stage 0 as passed")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := newState()
	s.Record(0, true, "ok")
	s.Record(1, false, "boot timed out")
	s.Stage00ISOMtimeSecs = 1234

	if err := s.Save(dir, "fedora"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := Load(dir, "fedora")
	if !reloaded.HasPassed(0) {
		t.Error("stage 0 should have reloaded as passed")
	}
	if reloaded.HasPassed(1) {
		t.Error("stage 1 should have reloaded as failed")
	}
	if reloaded.Stage00ISOMtimeSecs != 1234 {
		t.Errorf("Stage00ISOMtimeSecs = %d, want 1234", reloaded.Stage00ISOMtimeSecs)
	}
}

func TestLegacyISOMtimeAlias(t *testing.T) {
	dir := t.TempDir()
	path := StatePath(dir, "fedora")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}

	legacy := map[string]interface{}{
		"iso_mtime_secs": 999,
		"results":        map[int]Record{0: {Passed: true, Timestamp: "x", Evidence: "y"}},
	}
	data, err := yaml.Marshal(legacy)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	s := Load(dir, "fedora")
	if s.Stage00ISOMtimeSecs != 999 {
		t.Errorf("legacy alias not honored: Stage00ISOMtimeSecs = %d, want 999", s.Stage00ISOMtimeSecs)
	}
	if !s.HasPassed(0) {
		t.Error("expected stage 0 to load as passed from the legacy document")
	}
}

func TestHighestPassedRequiresContiguity(t *testing.T) {
	s := newState()
	s.Record(0, true, "ok")
	s.Record(1, true, "ok")
	s.Record(2, false, "failed")
	s.Record(3, true, "ok") // a later pass behind a gap must not count

	if got := s.HighestPassed(); got != 1 {
		t.Fatalf("HighestPassed() = %d, want 1 (stage 2 failed, breaking the chain)", got)
	}
}

func TestIsValidForStageISODetectsRebuild(t *testing.T) {
	dir := t.TempDir()
	isoPath := touchISO(t, dir)

	s := newState()
	s.ResetForStageISO(0, isoPath)
	if !s.IsValidForStageISO(0, isoPath) {
		t.Fatal("freshly reset state should be valid for the same ISO mtime")
	}

	// Simulate a rebuild by bumping the mtime forward.
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(isoPath, future, future); err != nil {
		t.Fatal(err)
	}
	if s.IsValidForStageISO(0, isoPath) {
		t.Fatal("expected mtime mismatch to invalidate stage 0 after rebuild")
	}
}

func TestResetForStageISOStage0ClearsEverything(t *testing.T) {
	dir := t.TempDir()
	isoPath := touchISO(t, dir)

	s := newState()
	s.Record(0, true, "ok")
	s.Record(1, true, "ok")
	s.Record(2, true, "ok")

	s.ResetForStageISO(0, isoPath)

	if s.HasAnyResultsFrom(0) {
		t.Fatal("a stage-0 artifact rebuild must clear every stage record")
	}
}

func TestResetForStageISOStageNPreservesLowerStages(t *testing.T) {
	dir := t.TempDir()
	isoPath := touchISO(t, dir)

	s := newState()
	s.Record(0, true, "ok")
	s.Record(1, true, "ok")
	s.Record(2, true, "ok")
	s.Record(3, true, "ok")

	s.ResetForStageISO(3, isoPath)

	if !s.HasPassed(0) || !s.HasPassed(1) || !s.HasPassed(2) {
		t.Fatal("a stage-3 artifact rebuild must not invalidate stages below it")
	}
	if s.HasAnyResultsFrom(3) {
		t.Fatal("a stage-3 artifact rebuild must invalidate stage 3 and above")
	}
}

func TestResetClearsStateButKeepsBackup(t *testing.T) {
	dir := t.TempDir()
	s := newState()
	s.Record(0, true, "ok")
	if err := s.Save(dir, "fedora"); err != nil {
		t.Fatal(err)
	}

	if err := Reset(dir, "fedora"); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	fresh := Load(dir, "fedora")
	if fresh.HasPassed(0) {
		t.Fatal("expected state to be cleared after Reset")
	}

	backup := StatePath(dir, "fedora") + ".bak"
	if _, err := os.Stat(backup); err != nil {
		t.Fatalf("expected a backup file at %s, got error: %v", backup, err)
	}
}
