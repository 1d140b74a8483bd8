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

// Package steps implements the 24-step install/verify library: each
// step both performs an installation action and verifies the state it
// claims to have produced, rather than trusting an exit code alone.
package steps

import (
	"time"

	"github.com/ridgeline-labs/vmtest/distro"
	"github.com/ridgeline-labs/vmtest/serial"
)

// CheckKind classifies a Check's outcome. Skip and Warning are both
// distinct from Pass: neither proves the behavior they describe, so
// neither should be silently treated as success.
type CheckKind int

const (
	CheckPass CheckKind = iota
	CheckFail
	CheckSkip
	CheckWarning
)

// Check is one verification performed within a step. Evidence/Actual
// should contain concrete observed values ("45MB initramfs at
// /boot/initramfs.img"), not bare assertions ("file exists") — a
// reader should be able to tell from the evidence alone that the
// check could not have passed by accident.
type Check struct {
	Name     string
	Kind     CheckKind
	Evidence string
	Expected string
	Actual   string
}

// CommandLog records one command executed during a step, for the
// step's audit trail independent of its pass/fail checks.
type CommandLog struct {
	Command  string
	ExitCode int
	Output   string
	Success  bool
	Duration time.Duration
}

// Result is the outcome of running one Step.
type Result struct {
	StepNum      int
	Name         string
	Passed       bool
	HasSkips     bool
	HasWarnings  bool
	Duration     time.Duration
	Checks       []Check
	FixSuggestion string
	Commands     []CommandLog
}

// NewResult starts a Result defaulting to Passed — individual Fail
// checks flip it, mirroring the teacher's "innocent until a check
// fails" accumulator pattern.
func NewResult(stepNum int, name string) *Result {
	return &Result{StepNum: stepNum, Name: name, Passed: true}
}

func (r *Result) Pass(name, evidence string) {
	r.Checks = append(r.Checks, Check{Name: name, Kind: CheckPass, Evidence: evidence})
}

func (r *Result) Fail(name, expected, actual string) {
	r.Passed = false
	r.Checks = append(r.Checks, Check{Name: name, Kind: CheckFail, Expected: expected, Actual: actual})
}

func (r *Result) Skip(name, reason string) {
	r.HasSkips = true
	r.Checks = append(r.Checks, Check{Name: name, Kind: CheckSkip, Evidence: reason})
}

func (r *Result) Warn(name, note string) {
	r.HasWarnings = true
	r.Checks = append(r.Checks, Check{Name: name, Kind: CheckWarning, Evidence: note})
}

func (r *Result) LogCommand(command string, exitCode int, output string, duration time.Duration) {
	r.Commands = append(r.Commands, CommandLog{
		Command: command, ExitCode: exitCode, Output: output,
		Success: exitCode == 0, Duration: duration,
	})
}

// SkipCount and WarningCount let callers distinguish a clean pass from
// one that merely avoided hard failure.
func (r *Result) SkipCount() int {
	n := 0
	for _, c := range r.Checks {
		if c.Kind == CheckSkip {
			n++
		}
	}
	return n
}

func (r *Result) WarningCount() int {
	n := 0
	for _, c := range r.Checks {
		if c.Kind == CheckWarning {
			n++
		}
	}
	return n
}

// Step is a single numbered installation or verification action.
type Step interface {
	Num() int
	Name() string
	Ensures() string
	Execute(console *serial.Console, profile *distro.Profile) (*Result, error)
	Phase() int
}

// phaseOf maps a step number to its phase (1: boot, 2: disk,
// 3: base system, 4: configuration, 5: bootloader, 6: post-reboot
// verification), matching the grouping the step numbering was
// designed around.
func phaseOf(num int) int {
	switch {
	case num >= 1 && num <= 2:
		return 1
	case num >= 3 && num <= 6:
		return 2
	case num >= 7 && num <= 10:
		return 3
	case num >= 11 && num <= 15:
		return 4
	case num >= 16 && num <= 18:
		return 5
	case num >= 19 && num <= 24:
		return 6
	default:
		return 0
	}
}

// All returns all 24 steps in execution order.
func All() []Step {
	return []Step{
		VerifyUefi{}, SyncClock{},
		IdentifyDisk{}, PartitionDisk{}, FormatPartitions{}, MountPartitions{},
		MountInstallMedia{}, ExtractBaseSystem{}, GenerateFstab{}, VerifyChroot{},
		SetTimezone{}, ConfigureLocale{}, SetHostname{}, SetRootPassword{}, CreateUser{},
		GenerateInitramfs{}, InstallBootloader{}, EnableServices{},
		VerifySystemdBoot{}, VerifyHostname{}, VerifyUserLogin{}, VerifyNetworking{}, VerifySudo{}, VerifyEssentialCommands{},
	}
}

// ForPhase returns the subset of All() belonging to phase.
func ForPhase(phase int) []Step {
	var out []Step
	for _, s := range All() {
		if s.Phase() == phase {
			out = append(out, s)
		}
	}
	return out
}

// Ensure is the structured ensure-or-fail primitive: when ok is false
// it fails the result with a message naming what was being protected,
// so a failed step's output explains WHY the check mattered, not just
// that it failed.
func Ensure(r *Result, ok bool, checkName, protects, message string) {
	if ok {
		return
	}
	r.Fail(checkName, protects, message)
}
