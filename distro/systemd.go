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

// systemdBootErrorPatterns is shared across the systemd family and
// seeds both BootErrorPatterns and CriticalBootErrors; variants may
// append to those lists but never remove from the shared base.
var systemdBootErrorPatterns = []string{
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
	"SQUASHFS error",
	"emergency shell",
	"Emergency shell",
	"emergency.target",
	"rescue.target",
	"Timed out waiting for device",
	"fatal error",
	"Segmentation fault",
	"core dumped",
}

var systemdServiceFailurePatterns = []string{
	"Failed to start",
	"[FAILED]",
	"Dependency failed",
}

// newSystemdBase returns the shared systemd-family profile values.
// Variant constructors start from this and override identity,
// credentials, and any pattern-set additions.
func newSystemdBase() *Profile {
	return &Profile{
		LoginPrompt:                  " login:",
		LiveBootSuccessPatterns:      []string{"___SHELL_READY___", "___PROMPT___"},
		InstalledBootSuccessPatterns: []string{"___SHELL_READY___", "login:", "multi-user.target"},
		BootErrorPatterns:            append([]string(nil), systemdBootErrorPatterns...),
		CriticalBootErrors:           append([]string(nil), systemdBootErrorPatterns...),
		ServiceFailurePatterns:       append([]string(nil), systemdServiceFailurePatterns...),
		StallTimeoutSeconds:          60,
		PID1Name:                     "systemd",
		ChrootShell:                  "/bin/bash",
		ExtractTool:                  "basestrap",
		FstabTool:                    "basefstab",
		ChrootTool:                   "basechroot",
		UserGroups:                   []string{"wheel", "audio", "video", "input"},
		EnableService: func(svc string) string {
			return fmt.Sprintf("systemctl enable %s", svc)
		},
		BootTargetReachedCommand: func() string {
			return "systemctl is-active multi-user.target"
		},
		FailedServicesCommand: func() string {
			return "systemctl --failed --no-legend"
		},
		BootloaderInstallCommand: func(espPath string) string {
			return fmt.Sprintf("bootctl install --esp-path=%s --no-variables", espPath)
		},
	}
}
