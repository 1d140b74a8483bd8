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

import (
	"strings"
	"time"

	"github.com/ridgeline-labs/vmtest/distro"
	"github.com/ridgeline-labs/vmtest/serial"
)

// targetDisk is the virtio block device every variant is installed
// to; the harness always provisions exactly one disk for the VM under
// test (see qemu.QemuBuilder.DiskPath).
const targetDisk = "/dev/vda"

// sfdiskGPTScript is a two-partition GPT layout: a 512MiB EFI System
// Partition followed by a Linux root partition consuming the rest of
// the disk. "U" and "L" are sfdisk's GPT type shortcuts for EFI System
// and Linux filesystem respectively.
const sfdiskGPTScript = "label: gpt\n,512M,U\n,,L\n"

// IdentifyDisk is step 3.
type IdentifyDisk struct{}

func (IdentifyDisk) Num() int        { return 3 }
func (IdentifyDisk) Name() string    { return "Identify Target Disk" }
func (IdentifyDisk) Phase() int      { return phaseOf(3) }
func (IdentifyDisk) Ensures() string { return "Target disk is detected and accessible for installation" }

func (IdentifyDisk) Execute(console *serial.Console, _ *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(3, "Identify Target Disk")

	lsblk, err := console.Exec("lsblk -dn -o NAME,TYPE | grep disk", 5*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, strings.Contains(lsblk.Output, "vda"),
		"Target disk found",
		"target disk is detected for installation",
		"target disk /dev/vda not found, got: "+strings.TrimSpace(lsblk.Output))
	if r.Passed {
		r.Pass("Target disk found", "/dev/vda detected")
	}

	r.Duration = time.Since(start)
	return r, nil
}

// PartitionDisk is step 4.
type PartitionDisk struct{}

func (PartitionDisk) Num() int     { return 4 }
func (PartitionDisk) Name() string { return "Partition Disk (GPT)" }
func (PartitionDisk) Phase() int   { return phaseOf(4) }
func (PartitionDisk) Ensures() string {
	return "Disk has GPT layout with EFI and root partitions"
}

func (PartitionDisk) Execute(console *serial.Console, _ *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(4, "Partition Disk (GPT)")

	sfdisk, err := console.Exec(
		"printf '"+strings.ReplaceAll(sfdiskGPTScript, "\n", `\n`)+"' | sfdisk "+targetDisk,
		30*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, sfdisk.Success(), "GPT partition table created",
		"disk partitioning actually works",
		"sfdisk failed: "+sfdisk.Output)
	if !r.Passed {
		r.Duration = time.Since(start)
		return r, nil
	}
	r.Pass("GPT partition table created", "sfdisk completed successfully")

	_, _ = console.Exec("partprobe "+targetDisk+" 2>/dev/null || true", 5*time.Second)
	_, _ = console.Exec("udevadm settle --timeout=5 2>/dev/null || sleep 2", 10*time.Second)

	verify, err := console.Exec("lsblk "+targetDisk+" -o NAME,SIZE,TYPE", 5*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, strings.Contains(verify.Output, "vda1") && strings.Contains(verify.Output, "vda2"),
		"Partitions created",
		"both partitions were actually created",
		"expected vda1 and vda2, got:\n"+verify.Output)
	if r.Passed {
		r.Pass("Partitions created", "vda1 (EFI) and vda2 (root) exist")
	}

	r.Duration = time.Since(start)
	return r, nil
}

// FormatPartitions is step 5.
type FormatPartitions struct{}

func (FormatPartitions) Num() int        { return 5 }
func (FormatPartitions) Name() string    { return "Format Partitions" }
func (FormatPartitions) Phase() int      { return phaseOf(5) }
func (FormatPartitions) Ensures() string { return "Partitions have proper filesystems (FAT32 for EFI, ext4 for root)" }

func (FormatPartitions) Execute(console *serial.Console, _ *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(5, "Format Partitions")

	fat, err := console.Exec("mkfs.fat -F32 "+targetDisk+"1", 30*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, fat.Success(), "EFI partition formatted",
		"EFI partition has FAT32 filesystem for UEFI boot",
		"mkfs.fat failed: "+fat.Output)
	if r.Passed {
		r.Pass("EFI partition formatted", "FAT32 on "+targetDisk+"1")
	}

	ext4, err := console.Exec("mkfs.ext4 -F "+targetDisk+"2", 60*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, ext4.Success(), "Root partition formatted",
		"root partition has ext4 filesystem for system files",
		"mkfs.ext4 failed: "+ext4.Output)
	if ext4.Success() {
		r.Pass("Root partition formatted", "ext4 on "+targetDisk+"2")
	}

	r.Duration = time.Since(start)
	return r, nil
}

// MountPartitions is step 6.
type MountPartitions struct{}

func (MountPartitions) Num() int        { return 6 }
func (MountPartitions) Name() string    { return "Mount Partitions" }
func (MountPartitions) Phase() int      { return phaseOf(6) }
func (MountPartitions) Ensures() string { return "Root partition at /mnt, EFI partition at /mnt/boot/efi" }

func (MountPartitions) Execute(console *serial.Console, _ *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(6, "Mount Partitions")

	_, _ = console.Exec("mkdir -p /mnt", 5*time.Second)
	mountRoot, err := console.Exec("mount "+targetDisk+"2 /mnt", 10*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, mountRoot.Success(), "Root mounted",
		"root partition is mounted for file extraction",
		"failed to mount "+targetDisk+"2 to /mnt: "+mountRoot.Output)
	if mountRoot.Success() {
		r.Pass("Root mounted", targetDisk+"2 -> /mnt")
	}

	_, _ = console.Exec("mkdir -p /mnt/boot/efi", 5*time.Second)
	mountBoot, err := console.Exec("mount "+targetDisk+"1 /mnt/boot/efi", 10*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, mountBoot.Success(), "EFI mounted",
		"EFI partition is mounted for bootloader",
		"failed to mount "+targetDisk+"1 to /mnt/boot/efi: "+mountBoot.Output)
	if mountBoot.Success() {
		r.Pass("EFI mounted", targetDisk+"1 -> /mnt/boot/efi")
	}

	mounts, err := console.Exec("mount | grep /mnt", 5*time.Second)
	if err != nil {
		return nil, err
	}
	if strings.Contains(mounts.Output, "/mnt") && strings.Contains(mounts.Output, "/mnt/boot/efi") {
		r.Pass("Mounts verified", "both partitions mounted")
	}

	r.Duration = time.Since(start)
	return r, nil
}
