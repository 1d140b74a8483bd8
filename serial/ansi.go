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

import "strings"

// StripANSI removes ANSI escape sequences and a handful of stray
// control characters from guest serial output so that pattern
// matching (boot markers, error patterns, command markers) sees clean
// text. It handles:
//
//   - CSI sequences: ESC [ ... final byte
//   - OSC sequences: ESC ] ... terminated by BEL or ST (ESC \)
//   - DCS sequences: ESC P ... terminated by ST (ESC \)
//   - single-character escapes: ESC followed by one letter, '>', '=',
//     '(' or ')' (the latter two consume one further charset byte)
//   - stray BEL, NUL, SI, SO control bytes
//
// It is applied at pattern-matching time, not on storage, so the raw
// line is still available for diagnostic dumps.
func StripANSI(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	runes := []rune(s)
	i := 0
	n := len(runes)

	for i < n {
		c := runes[i]
		if c != '\x1b' {
			switch c {
			case '\x07', '\x00', '\x0f', '\x0e':
				// BEL, NUL, SI, SO: dropped.
			default:
				out.WriteRune(c)
			}
			i++
			continue
		}

		// c == ESC
		if i+1 >= n {
			i++
			continue
		}
		next := runes[i+1]

		switch {
		case next == '[':
			// CSI: skip until the final byte (0x40-0x7E, i.e. '@'-'~').
			j := i + 2
			for j < n {
				b := runes[j]
				j++
				if b >= 0x40 && b <= 0x7e {
					break
				}
			}
			i = j

		case next == ']':
			// OSC: skip until BEL or ESC \.
			j := i + 2
			for j < n {
				b := runes[j]
				j++
				if b == '\x07' {
					break
				}
				if b == '\x1b' && j < n && runes[j] == '\\' {
					j++
					break
				}
			}
			i = j

		case next == 'P':
			// DCS: skip until ESC \.
			j := i + 2
			for j < n {
				b := runes[j]
				j++
				if b == '\x1b' && j < n && runes[j] == '\\' {
					j++
					break
				}
			}
			i = j

		case isAlpha(next) || next == '>' || next == '=' || next == '(' || next == ')':
			// Single-character escape, with '(' / ')' consuming one
			// further charset-selection byte.
			j := i + 2
			if (next == '(' || next == ')') && j < n {
				j++
			}
			i = j

		default:
			// Unrecognized escape: drop only the ESC itself.
			i++
		}
	}

	return out.String()
}

func isAlpha(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
