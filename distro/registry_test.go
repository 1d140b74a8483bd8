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

package distro

import "testing"

func TestForKnownVariants(t *testing.T) {
	for _, id := range AvailableVariants {
		p, err := For(id)
		if err != nil {
			t.Fatalf("For(%q): unexpected error: %v", id, err)
		}
		if p.ShortID != id {
			t.Errorf("For(%q).ShortID = %q, want %q", id, p.ShortID, id)
		}
		if p.EnableService == nil || p.BootloaderInstallCommand == nil {
			t.Errorf("For(%q): profile missing command templates", id)
		}
	}
}

func TestForUnknownVariant(t *testing.T) {
	if _, err := For("nonexistent"); err == nil {
		t.Fatal("For(\"nonexistent\"): expected error, got nil")
	}
}

func TestSystemdVsOpenRCFamilyDefaults(t *testing.T) {
	ridge, _ := For("ridgeline")
	drift, _ := For("driftwood")

	if ridge.PID1Name != "systemd" {
		t.Errorf("ridgeline PID1Name = %q, want systemd", ridge.PID1Name)
	}
	if drift.PID1Name != "init" {
		t.Errorf("driftwood PID1Name = %q, want init", drift.PID1Name)
	}
	if drift.StallTimeoutSeconds <= ridge.StallTimeoutSeconds {
		t.Errorf("OpenRC stall timeout (%d) should exceed systemd's (%d)",
			drift.StallTimeoutSeconds, ridge.StallTimeoutSeconds)
	}
}

// Mutating one variant's pattern slice must never affect another's —
// each profile owns its own copy of the shared base pattern list.
func TestPatternSetsAreNotAliased(t *testing.T) {
	ridge, _ := For("ridgeline")
	cobalt, _ := For("cobalt")

	before := len(cobalt.BootErrorPatterns)
	ridge.BootErrorPatterns = append(ridge.BootErrorPatterns, "injected for test")

	if len(cobalt.BootErrorPatterns) != before {
		t.Fatal("mutating one profile's BootErrorPatterns affected another profile's slice")
	}
}
