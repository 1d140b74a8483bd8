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
	"fmt"
	"strings"
	"time"

	"github.com/ridgeline-labs/vmtest/distro"
	"github.com/ridgeline-labs/vmtest/serial"
)

// espPath is where the EFI System Partition is mounted inside the
// chroot; matches MountPartitions (step 6).
const espPath = "/boot/efi"

// GenerateInitramfs is step 16.
type GenerateInitramfs struct{}

func (GenerateInitramfs) Num() int        { return 16 }
func (GenerateInitramfs) Name() string    { return "Generate Initramfs" }
func (GenerateInitramfs) Phase() int      { return phaseOf(16) }
func (GenerateInitramfs) Ensures() string { return "Initramfs exists and is non-trivially sized for the installed kernel" }

func (GenerateInitramfs) Execute(console *serial.Console, profile *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(16, "Generate Initramfs")

	kver, err := console.ExecChroot(profile.ChrootTool, "/mnt", "ls /usr/lib/modules 2>/dev/null | head -1", 5*time.Second)
	if err != nil {
		return nil, err
	}
	kernelVersion := strings.TrimSpace(kver.Output)
	Ensure(r, kernelVersion != "", "Kernel modules directory found",
		"a kernel version directory exists under /usr/lib/modules",
		"no directories under /usr/lib/modules; kernel package may not be installed")
	if !r.Passed {
		r.Duration = time.Since(start)
		return r, nil
	}
	r.Pass("Kernel modules directory found", kernelVersion)

	genCmd := fmt.Sprintf("dracut --force /boot/initramfs-%s.img %s", kernelVersion, kernelVersion)
	gen, err := console.ExecChroot(profile.ChrootTool, "/mnt", genCmd, 120*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, gen.Success(), "dracut completed",
		"initramfs is generated for the installed kernel",
		fmt.Sprintf("dracut failed (exit %d): %s", gen.ExitCode, gen.Output))
	if !r.Passed {
		r.Duration = time.Since(start)
		return r, nil
	}
	r.Pass("dracut completed", "exit 0")

	sizeCheck, err := console.ExecChroot(profile.ChrootTool, "/mnt",
		fmt.Sprintf("stat -c %%s /boot/initramfs-%s.img", kernelVersion), 5*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, sizeCheck.Success(),
		"Initramfs exists", "initramfs file exists on disk",
		"initramfs file not found after dracut reported success")
	if !r.Passed {
		r.Duration = time.Since(start)
		return r, nil
	}

	sizeStr := strings.TrimSpace(sizeCheck.Output)
	var sizeBytes int64
	fmt.Sscanf(sizeStr, "%d", &sizeBytes)
	const minInitramfsBytes = 1 << 20 // 1MiB: a dracut image this small is almost certainly truncated
	Ensure(r, sizeBytes >= minInitramfsBytes,
		"Initramfs non-trivially sized",
		fmt.Sprintf(">= %d bytes", minInitramfsBytes),
		fmt.Sprintf("initramfs is only %d bytes", sizeBytes))
	if r.Passed {
		r.Pass("Initramfs non-trivially sized", fmt.Sprintf("%d bytes", sizeBytes))
	}

	r.Duration = time.Since(start)
	return r, nil
}

// InstallBootloader is step 17.
type InstallBootloader struct{}

func (InstallBootloader) Num() int        { return 17 }
func (InstallBootloader) Name() string    { return "Install Bootloader" }
func (InstallBootloader) Phase() int      { return phaseOf(17) }
func (InstallBootloader) Ensures() string { return "Bootloader is installed and EFI boot entry is registered" }

func (InstallBootloader) Execute(console *serial.Console, profile *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(17, "Install Bootloader")

	cmd := profile.BootloaderInstallCommand(espPath)
	install, err := console.ExecChroot(profile.ChrootTool, "/mnt", cmd, 60*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, install.Success(), "Bootloader installer completed",
		"bootloader is actually installed to the ESP",
		fmt.Sprintf("bootloader install failed (exit %d): %s", install.ExitCode, install.Output))
	if !r.Passed {
		r.Duration = time.Since(start)
		return r, nil
	}
	r.Pass("Bootloader installer completed", "exit 0")

	verify, err := console.ExecChroot(profile.ChrootTool, "/mnt", "ls "+espPath+"/EFI 2>/dev/null", 5*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, verify.Success() && strings.TrimSpace(verify.Output) != "",
		"EFI boot files present", "EFI directory contains bootloader files",
		"no files under "+espPath+"/EFI after bootloader install")
	if r.Passed {
		r.Pass("EFI boot files present", strings.TrimSpace(verify.Output))
	}

	r.Duration = time.Since(start)
	return r, nil
}

// EnableServices is step 18.
type EnableServices struct{}

func (EnableServices) Num() int        { return 18 }
func (EnableServices) Name() string    { return "Enable Essential Services" }
func (EnableServices) Phase() int      { return phaseOf(18) }
func (EnableServices) Ensures() string { return "Essential services (network, ssh) are enabled to start at boot" }

var essentialServices = []string{"sshd", "NetworkManager"}

func (EnableServices) Execute(console *serial.Console, profile *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(18, "Enable Essential Services")

	for _, svc := range essentialServices {
		unitCheck, err := console.ExecChroot(profile.ChrootTool, "/mnt", "which "+svc+" 2>/dev/null || true", 5*time.Second)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(unitCheck.Output) == "" {
			r.Skip("Enable "+svc, svc+" not installed in this variant's base image")
			continue
		}

		cmd := profile.EnableService(svc)
		enable, err := console.ExecChroot(profile.ChrootTool, "/mnt", cmd, 15*time.Second)
		if err != nil {
			return nil, err
		}
		if enable.Success() {
			r.Pass("Enable "+svc, "exit 0")
		} else {
			r.Warn("Enable "+svc, fmt.Sprintf("enable command failed (exit %d): %s", enable.ExitCode, enable.Output))
		}
	}

	r.Duration = time.Since(start)
	return r, nil
}
