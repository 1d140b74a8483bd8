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

package steps

import "testing"

func TestNewResultDefaultsToPassed(t *testing.T) {
	r := NewResult(1, "Some Step")
	if !r.Passed {
		t.Fatal("NewResult should default Passed to true")
	}
}

func TestFailFlipsPassed(t *testing.T) {
	r := NewResult(1, "Some Step")
	r.Pass("check a", "looked fine")
	r.Fail("check b", "expected X", "got Y")
	if r.Passed {
		t.Fatal("Result.Passed should be false after any Fail check")
	}
	if len(r.Checks) != 2 {
		t.Fatalf("got %d checks, want 2", len(r.Checks))
	}
}

func TestSkipAndWarnCounts(t *testing.T) {
	r := NewResult(1, "Some Step")
	r.Skip("optional check", "tool not installed")
	r.Skip("another optional check", "not applicable")
	r.Warn("borderline check", "took longer than expected")
	if r.SkipCount() != 2 {
		t.Fatalf("SkipCount() = %d, want 2", r.SkipCount())
	}
	if r.WarningCount() != 1 {
		t.Fatalf("WarningCount() = %d, want 1", r.WarningCount())
	}
	if !r.Passed {
		t.Fatal("skips and warnings alone must not fail a result")
	}
}

func TestEnsurePassesThrough(t *testing.T) {
	r := NewResult(1, "Some Step")
	Ensure(r, true, "check", "protects X", "message")
	if !r.Passed || len(r.Checks) != 0 {
		t.Fatalf("Ensure(true, ...) must not record a check or fail the result, got Passed=%v Checks=%v", r.Passed, r.Checks)
	}
}

func TestEnsureFailsAndRecords(t *testing.T) {
	r := NewResult(1, "Some Step")
	Ensure(r, false, "check name", "protects X", "message")
	if r.Passed {
		t.Fatal("Ensure(false, ...) must fail the result")
	}
	if len(r.Checks) != 1 || r.Checks[0].Kind != CheckFail {
		t.Fatalf("got checks %+v, want one CheckFail", r.Checks)
	}
}

func TestAllReturns24StepsInOrder(t *testing.T) {
	all := All()
	if len(all) != 24 {
		t.Fatalf("All() returned %d steps, want 24", len(all))
	}
	for i, s := range all {
		want := i + 1
		if s.Num() != want {
			t.Fatalf("step at index %d has Num()=%d, want %d", i, s.Num(), want)
		}
	}
}

func TestForPhasePartitionsAllSteps(t *testing.T) {
	seen := make(map[int]bool)
	total := 0
	for phase := 1; phase <= 6; phase++ {
		for _, s := range ForPhase(phase) {
			if s.Phase() != phase {
				t.Fatalf("ForPhase(%d) returned step %q with Phase()=%d", phase, s.Name(), s.Phase())
			}
			if seen[s.Num()] {
				t.Fatalf("step %d appears in more than one phase", s.Num())
			}
			seen[s.Num()] = true
			total++
		}
	}
	if total != len(All()) {
		t.Fatalf("phases 1-6 cover %d steps, want %d", total, len(All()))
	}
}

func TestEveryStepHasNameAndEnsures(t *testing.T) {
	for _, s := range All() {
		if s.Name() == "" {
			t.Fatalf("step %d has an empty Name()", s.Num())
		}
		if s.Ensures() == "" {
			t.Fatalf("step %d has an empty Ensures()", s.Num())
		}
	}
}
