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

// Package distro holds the OS Variant Profile: an immutable capability
// record describing how to drive one OS family's installer and
// installed system over the serial console. It is a struct of values
// and function fields, not a class hierarchy — two base families
// (systemd, OpenRC) are built once in code and variant-specific
// fields are overridden on the copy.
package distro

// Profile is looked up once per run by ShortID and passed by
// reference to every component that needs to drive the guest: the
// Boot Waiter (pattern sets), the Login/Auth Flow (prompt strings,
// credentials), the Command Executor (no per-variant behavior, but
// callers often quote variant tool names), and the Step Library
// (service-enable syntax, tool names, bootloader invocation).
type Profile struct {
	DisplayName string
	ShortID     string

	Hostname        string
	DefaultUsername string
	DefaultPassword string

	LoginPrompt string // substring identifying the login: prompt for this variant

	LiveBootSuccessPatterns      []string
	InstalledBootSuccessPatterns []string
	BootErrorPatterns            []string
	CriticalBootErrors           []string
	ServiceFailurePatterns       []string

	StallTimeoutSeconds int

	PID1Name    string // expected process name of PID 1 once booted
	ChrootShell string // e.g. "/bin/bash" or "/bin/ash"

	LiveTools      []string
	InstalledTools []string

	// ExtractTool is invoked to unpack the base system onto /mnt.
	ExtractTool string
	// FstabTool generates an fstab from the current mount table.
	FstabTool string
	// ChrootTool is the external chroot helper (bind-mounts /dev,
	// /proc, /sys, /run automatically).
	ChrootTool string

	// EnableService renders the command that enables svc to start at
	// boot (systemctl enable vs rc-update add <svc> <runlevel>).
	EnableService func(svc string) string
	// BootTargetReachedCommand renders the command used in Phase 6 to
	// confirm the default boot target / runlevel was reached.
	BootTargetReachedCommand func() string
	// FailedServicesCommand renders the command used in Phase 6 to list
	// any services that failed to start.
	FailedServicesCommand func() string
	// BootloaderInstallCommand renders the bootloader-install invocation
	// given an ESP path hint; must pass a no-variables flag since
	// firmware variables are unavailable from within a chroot.
	BootloaderInstallCommand func(espPath string) string

	// UserGroups restricts user-creation group membership to groups
	// that actually exist in the target, per the Phase 4 step design.
	UserGroups []string
}
