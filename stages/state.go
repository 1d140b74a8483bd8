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

// Package stages implements the Stage Orchestrator: the Stage 0-6
// runner with persisted per-variant state, ISO-mtime invalidation, and
// strict N-1-must-pass dependency gating.
package stages

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/coreos/pkg/capnslog"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

var plog = capnslog.NewPackageLogger("github.com/ridgeline-labs/vmtest", "stages")

// Record is the persisted outcome of one stage run.
type Record struct {
	Passed    bool   `yaml:"passed"`
	Timestamp string `yaml:"timestamp"`
	Evidence  string `yaml:"evidence"`
}

// State is the persisted per-variant blob: the Stage-00 ISO mtime,
// per-stage runtime-ISO mtimes (Stage 01+ may use a different artifact
// than Stage 00), and the stage number -> Record map.
//
// Stage00ISOMtimeSecs also accepts yaml documents written by an older
// layout that stored this field as "iso_mtime_secs"; UnmarshalYAML
// below falls back to it when the current field name is absent, the
// same compatibility behavior the original state format provided via
// a serde field alias.
type State struct {
	Stage00ISOMtimeSecs       int64           `yaml:"stage00_iso_mtime_secs"`
	RuntimeISOMtimeSecs       int64           `yaml:"runtime_iso_mtime_secs"`
	RuntimeISOMtimeSecsByStage map[int]int64  `yaml:"runtime_iso_mtime_secs_by_stage"`
	Results                   map[int]Record `yaml:"results"`
}

// rawState mirrors State's shape for decoding but also accepts the
// legacy alias field, letting UnmarshalYAML implement the fallback
// without hand-parsing the document.
type rawState struct {
	Stage00ISOMtimeSecs       int64          `yaml:"stage00_iso_mtime_secs"`
	LegacyISOMtimeSecs        int64          `yaml:"iso_mtime_secs"`
	RuntimeISOMtimeSecs       int64          `yaml:"runtime_iso_mtime_secs"`
	RuntimeISOMtimeSecsByStage map[int]int64 `yaml:"runtime_iso_mtime_secs_by_stage"`
	Results                   map[int]Record `yaml:"results"`
}

func (s *State) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw rawState
	if err := unmarshal(&raw); err != nil {
		return err
	}
	s.Stage00ISOMtimeSecs = raw.Stage00ISOMtimeSecs
	if s.Stage00ISOMtimeSecs == 0 {
		s.Stage00ISOMtimeSecs = raw.LegacyISOMtimeSecs
	}
	s.RuntimeISOMtimeSecs = raw.RuntimeISOMtimeSecs
	s.RuntimeISOMtimeSecsByStage = raw.RuntimeISOMtimeSecsByStage
	s.Results = raw.Results
	return nil
}

func newState() *State {
	return &State{
		RuntimeISOMtimeSecsByStage: make(map[int]int64),
		Results:                    make(map[int]Record),
	}
}

// StatePath returns the per-variant state file path under baseDir
// (conventionally the harness's working directory, analogous to the
// original's workspace-relative ".stages/" directory — Go has no
// build-time equivalent of CARGO_MANIFEST_DIR, so the base directory
// is an explicit parameter instead).
func StatePath(baseDir, variantID string) string {
	return filepath.Join(baseDir, ".stages", variantID+".yaml")
}

// Load reads a variant's state from disk, returning a fresh empty
// State if the file is missing or cannot be parsed. A corrupt or
// absent state file is never a fatal error — it just means every
// stage re-runs.
func Load(baseDir, variantID string) *State {
	path := StatePath(baseDir, variantID)
	data, err := os.ReadFile(path)
	if err != nil {
		return newState()
	}

	s := newState()
	if err := yaml.Unmarshal(data, s); err != nil {
		plog.Warningf("discarding unparseable state file %s: %v", path, err)
		return newState()
	}
	if s.RuntimeISOMtimeSecsByStage == nil {
		s.RuntimeISOMtimeSecsByStage = make(map[int]int64)
	}
	if s.Results == nil {
		s.Results = make(map[int]Record)
	}
	return s
}

// Save writes the state to disk as pretty-printed, human-reviewable
// YAML, creating the parent directory if needed.
func (s *State) Save(baseDir, variantID string) error {
	path := StatePath(baseDir, variantID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(path))
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encoding stage state")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

// IsValidForStageISO reports whether the state's recorded mtime for
// stage still matches isoPath's current mtime. Stage 0 checks the
// build-only ISO mtime; Stage 1+ checks the per-stage runtime-ISO
// mtime, falling back to the single legacy runtime mtime field for
// state files written before per-stage tracking existed.
func (s *State) IsValidForStageISO(stage int, isoPath string) bool {
	mtime, ok := isoMtimeSecs(isoPath)
	if !ok {
		return false
	}
	if stage == 0 {
		return s.Stage00ISOMtimeSecs == mtime
	}
	if recorded, ok := s.RuntimeISOMtimeSecsByStage[stage]; ok {
		return recorded == mtime
	}
	return s.RuntimeISOMtimeSecs == mtime
}

// ResetForStageISO updates the recorded mtime for stage and
// invalidates the stage records an artifact rebuild can no longer
// vouch for. A Stage-00 rebuild invalidates everything; a Stage-N
// (N>=1) rebuild invalidates N and above but preserves what's below.
func (s *State) ResetForStageISO(stage int, isoPath string) {
	mtime, _ := isoMtimeSecs(isoPath)
	if stage == 0 {
		s.Stage00ISOMtimeSecs = mtime
		s.RuntimeISOMtimeSecs = 0
		s.RuntimeISOMtimeSecsByStage = make(map[int]int64)
		s.Results = make(map[int]Record)
		return
	}

	s.RuntimeISOMtimeSecsByStage[stage] = mtime
	if stage == 1 {
		s.RuntimeISOMtimeSecs = mtime
	}
	for n := range s.Results {
		if n >= stage {
			delete(s.Results, n)
		}
	}
}

// Record stores the outcome of running stage.
func (s *State) Record(stage int, passed bool, evidence string) {
	s.Results[stage] = Record{
		Passed:    passed,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Evidence:  evidence,
	}
}

// HasPassed reports whether stage's most recent recorded run passed.
func (s *State) HasPassed(stage int) bool {
	r, ok := s.Results[stage]
	return ok && r.Passed
}

// HasAnyResultsFrom reports whether any stage >= stage has a record,
// passed or not.
func (s *State) HasAnyResultsFrom(stage int) bool {
	for n := range s.Results {
		if n >= stage {
			return true
		}
	}
	return false
}

// HighestPassed is the largest N such that every stage in [0, N] has
// passed; it is strictly contiguous from 0, so a single gap anywhere
// caps it below any later pass. It returns 0 when stage 0 itself has
// not passed, the same value as when only stage 0 has passed.
func (s *State) HighestPassed() int {
	if !s.HasPassed(0) {
		return 0
	}
	n := 0
	for s.HasPassed(n + 1) {
		n++
	}
	return n
}

func isoMtimeSecs(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return info.ModTime().Unix(), true
}

// backupAndRemove renames path to path+".bak" (overwriting any
// previous backup) instead of deleting it outright, so an operator can
// recover from an accidental --reset.
func backupAndRemove(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	bak := path + ".bak"
	if err := os.Rename(path, bak); err != nil {
		return errors.Wrapf(err, "backing up %s to %s", path, bak)
	}
	return nil
}

// Reset backs up and clears a variant's persisted state.
func Reset(baseDir, variantID string) error {
	path := StatePath(baseDir, variantID)
	if err := backupAndRemove(path); err != nil {
		return err
	}
	plog.Infof("stage state reset for %s (backup at %s.bak if one existed)", variantID, path)
	return nil
}

// stageNames gives each stage number its one-line description, used
// for status output and progress messages.
var stageNames = map[int]string{
	0: "Artifact Conformance",
	1: "Live Boot",
	2: "Live Tool Verification",
	3: "Full Install",
	4: "Installed Boot",
	5: "Login Harness",
	6: "Installed Tool Verification",
}

func stageName(stage int) string {
	if name, ok := stageNames[stage]; ok {
		return name
	}
	return fmt.Sprintf("stage %d", stage)
}
