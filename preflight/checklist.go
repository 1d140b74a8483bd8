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

// Package preflight implements the Preflight Gate: a thin adaptor over
// an external content checker, run before a VM is ever spawned. It is
// the cheapest and earliest feedback in the pipeline — a broken
// initramfs or ISO is caught in milliseconds rather than after minutes
// of boot-waiting.
package preflight

// ArtifactKind identifies which checklist applies to an artifact.
type ArtifactKind int

const (
	LiveInitramfs ArtifactKind = iota
	InstallInitramfs
	ISO
)

func (k ArtifactKind) String() string {
	switch k {
	case LiveInitramfs:
		return "live initramfs"
	case InstallInitramfs:
		return "install initramfs"
	case ISO:
		return "ISO"
	default:
		return "unknown artifact"
	}
}

// checklists maps each kind to the set of paths a content listing must contain for an
// artifact of a given kind to be considered complete. Paths are
// relative to the archive/filesystem root, no leading slash.
var checklists = map[ArtifactKind][]string{
	// A live environment must be able to partition, format, and chroot
	// into a target — the same tools the Step Library (phases 2-3)
	// shells out to.
	LiveInitramfs: {
		"init",
		"bin/sh",
		"sbin/switch_root",
		"sbin/sfdisk",
		"sbin/mkfs.ext4",
		"sbin/mkfs.fat",
	},
	// The installed system's initramfs must be able to find and mount
	// its own root before handing off to init.
	InstallInitramfs: {
		"init",
		"bin/sh",
		"sbin/switch_root",
	},
	// The ISO itself must carry the live initramfs image plus the kernel
	// and bootloader the firmware will actually load.
	ISO: {
		"boot/vmlinuz",
		"boot/initramfs-live.cpio.gz",
		"EFI/BOOT/BOOTX64.EFI",
	},
}

// RequiredItems returns the checklist for kind.
func RequiredItems(kind ArtifactKind) []string {
	items := checklists[kind]
	out := make([]string, len(items))
	copy(out, items)
	return out
}

// Report is the outcome of checking one artifact against its
// checklist.
type Report struct {
	Name     string
	Kind     ArtifactKind
	Passed   bool
	Total    int
	Found    int
	Failures []string // one entry per missing required item, or a single entry describing why the artifact couldn't be read at all
}
