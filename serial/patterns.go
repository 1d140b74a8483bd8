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

// FatalErrorPatterns are checked during every command execution,
// independent of any OS variant, and cause immediate abort when seen:
// a kernel panic or initramfs tooling crash mid-command can otherwise
// hang a command's timeout out to its full duration for no benefit.
var FatalErrorPatterns = []string{
	"dracut[F]:",
	"dracut[E]: FAILED:",
	"dracut-install: ERROR:",
	"FATAL:",
	"Kernel panic",
	"not syncing",
	"Segmentation fault",
	"core dumped",
	"systemd-coredump",
}

func containsAny(s string, patterns []string) (string, bool) {
	for _, p := range patterns {
		if len(p) > 0 && strings.Contains(s, p) {
			return p, true
		}
	}
	return "", false
}
