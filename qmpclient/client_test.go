// Copyright 2020 Red Hat, Inc.
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

package qmpclient

import "testing"

func TestCharToQcode(t *testing.T) {
	tests := []struct {
		ch         rune
		wantCode   string
		wantShift  bool
		wantErr    bool
	}{
		{'a', "a", false, false},
		{'A', "a", true, false},
		{'\n', "ret", false, false},
		{' ', "spc", false, false},
		{'!', "1", true, false},
		{'_', "minus", true, false},
		{'~', "grave_accent", true, false},
		{'€', "", false, true},
	}

	for _, tt := range tests {
		code, shift, err := charToQcode(tt.ch)
		if tt.wantErr {
			if err == nil {
				t.Errorf("charToQcode(%q) expected error, got none", tt.ch)
			}
			continue
		}
		if err != nil {
			t.Fatalf("charToQcode(%q) unexpected error: %v", tt.ch, err)
		}
		if code != tt.wantCode || shift != tt.wantShift {
			t.Errorf("charToQcode(%q) = (%q, %v), want (%q, %v)", tt.ch, code, shift, tt.wantCode, tt.wantShift)
		}
	}
}
