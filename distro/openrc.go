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

import "fmt"

// openrcBootErrorPatterns mirrors the systemd list for the stages both
// families share (UEFI, bootloader, kernel) but substitutes OpenRC's
// own init-stage error vocabulary.
var openrcBootErrorPatterns = []string{
	"No bootable device",
	"Boot Failed",
	"Default Boot Device Missing",
	"Shell>",
	"ASSERT_EFI_ERROR",
	"map: Cannot find",
	"systemd-boot: Failed",
	"loader: Failed",
	"vmlinuz: not found",
	"initramfs: not found",
	"Error loading",
	"File not found",
	"Kernel panic",
	"not syncing",
	"VFS: Cannot open root device",
	"No init found",
	"Attempted to kill init",
	"can't find /init",
	"No root device",
	"EROFS:",
	"ERROR: cannot start",
	"Rootfs payload partition not found",
	"ERROR: ",
	"fatal error",
	"Segmentation fault",
	"core dumped",
}

var openrcServiceFailurePatterns = []string{
	"ERROR: cannot start",
	"* ERROR:",
	"crashed",
}

// newOpenRCBase returns the shared OpenRC-family profile values. Early
// boot under OpenRC is legitimately quieter than under systemd, hence
// the longer default stall timeout.
func newOpenRCBase() *Profile {
	// The critical list leaves out the "ERROR:" patterns that also match
	// service-failure lines, so those stay non-fatal during installed boot.
	var critical []string
	for _, p := range openrcBootErrorPatterns {
		if p != "ERROR: cannot start" && p != "ERROR: " {
			critical = append(critical, p)
		}
	}
	return &Profile{
		LoginPrompt:                  " login:",
		LiveBootSuccessPatterns:      []string{"___SHELL_READY___", "___PROMPT___"},
		InstalledBootSuccessPatterns: []string{"___SHELL_READY___", "login:", "default_reached"},
		BootErrorPatterns:            append([]string(nil), openrcBootErrorPatterns...),
		CriticalBootErrors:           critical,
		ServiceFailurePatterns:       append([]string(nil), openrcServiceFailurePatterns...),
		StallTimeoutSeconds:          180,
		PID1Name:                     "init",
		ChrootShell:                  "/bin/ash",
		ExtractTool:                  "basestrap",
		FstabTool:                    "basefstab",
		ChrootTool:                   "basechroot",
		UserGroups:                   []string{"wheel", "audio", "video", "input"},
		EnableService: func(svc string) string {
			return fmt.Sprintf("rc-update add %s default", svc)
		},
		BootTargetReachedCommand: func() string {
			return "rc-status default 2>/dev/null | grep -q started && echo default_reached"
		},
		FailedServicesCommand: func() string {
			return "rc-status --crashed 2>/dev/null || rc-status -a | grep -E 'stopped|crashed'"
		},
		BootloaderInstallCommand: func(espPath string) string {
			return fmt.Sprintf("bootctl install --esp-path=%s --no-variables", espPath)
		},
	}
}
