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

package serial

import (
	"strings"
	"testing"
)

func TestGenerateCommandMarkersUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 10000; i++ {
		start, done := GenerateCommandMarkers()
		if seen[start] || seen[done] {
			t.Fatalf("marker collision at iteration %d: start=%s done=%s", i, start, done)
		}
		seen[start] = true
		seen[done] = true
		if !strings.HasPrefix(start, "___START_") || !strings.HasSuffix(start, "___") {
			t.Fatalf("malformed start marker %q", start)
		}
		if !strings.HasPrefix(done, "___DONE_") || !strings.HasSuffix(done, "___") {
			t.Fatalf("malformed done marker %q", done)
		}
	}
}

func TestIsMarkerLine(t *testing.T) {
	cases := map[string]bool{
		"___START_123___":       true,
		"___DONE_456___ 0":      true,
		"___SYNC_789___":        true,
		"  ___SYNC2_123___  ":   true,
		"hello world":           false,
		"START something":       false,
		"root@host# ls":         false,
	}
	for line, want := range cases {
		if got := IsMarkerLine(line); got != want {
			t.Errorf("IsMarkerLine(%q) = %v, want %v", line, got, want)
		}
	}
}

func TestParseDoneMarkerRequiresDigitSuffix(t *testing.T) {
	_, done := GenerateCommandMarkers()

	if code, ok := ParseDoneMarker(done+" 0", done); !ok || code != 0 {
		t.Fatalf("expected exit code 0, got %d ok=%v", code, ok)
	}
	if code, ok := ParseDoneMarker(done+" 17 trailing", done); !ok || code != 17 {
		t.Fatalf("expected exit code 17, got %d ok=%v", code, ok)
	}
	// A command that echoes the marker text itself with no exit code
	// following it must not be mistaken for completion.
	if _, ok := ParseDoneMarker("some command printed "+done, done); ok {
		t.Fatal("expected no match when done marker has no digit suffix")
	}
	if _, ok := ParseDoneMarker("no marker here", done); ok {
		t.Fatal("expected no match when marker absent")
	}
}

func TestGenerateSecondarySyncMarkerSharesID(t *testing.T) {
	primary := GenerateSyncMarker()
	secondary := GenerateSecondarySyncMarker(primary)
	if !strings.HasPrefix(secondary, "___SYNC2_") {
		t.Fatalf("secondary marker %q missing prefix", secondary)
	}
	id := strings.TrimSuffix(strings.TrimPrefix(primary, "___SYNC_"), "___")
	if id == "" || secondary != "___SYNC2_"+id+"___" {
		t.Fatalf("secondary marker %q does not carry the primary's id %q", secondary, id)
	}
}
