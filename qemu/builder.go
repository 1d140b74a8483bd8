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

// Package qemu is a Go interface to running `qemu-system-x86_64` as a
// subprocess, configured for the installation test harness: either
// with stdio piped to a serial console driver, or with a QMP control
// socket for out-of-band keystroke/screenshot workflows.
package qemu

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	vexec "github.com/ridgeline-labs/vmtest/system/exec"
)

// FwCfgPayload names a file exposed to the guest through QEMU's fw_cfg
// channel, the concrete mechanism behind the boot-injection feature.
type FwCfgPayload struct {
	Name string
	Path string
}

// QemuBuilder accumulates VM configuration and produces a
// ready-to-spawn command. It enforces the anti-bypass invariants at
// build time: misconfigurations that would silently skip the
// system-under-test are programmer errors, not runtime errors, so
// they panic rather than returning an error value.
type QemuBuilder struct {
	// KernelPath, InitrdPath, and KernelArgs are debug-only direct-boot
	// fields. Setting KernelPath together with FirmwareCode is a policy
	// violation (see checkAntiBypass).
	KernelPath string
	InitrdPath string
	KernelArgs string

	ISOPath  string
	DiskPath string

	FirmwareCode string
	FirmwareVars string

	BootOrder string // "dc" (removable-then-fixed) or "c" (fixed-only)

	UserNetwork       bool
	NoGraphics        bool
	NoReboot          bool
	ControlSocketPath string
	Display           int
	Memory            int

	FwCfg *FwCfgPayload

	tempdir string
	argv    []string
}

// NewQemuBuilder returns a builder with the harness's defaults: no
// display server, 2GiB RAM, reboot suppressed so a test never loops
// indefinitely on an install that reboots into a failure.
func NewQemuBuilder() *QemuBuilder {
	return &QemuBuilder{
		Memory:     2048,
		NoGraphics: true,
		NoReboot:   true,
	}
}

func (b *QemuBuilder) ensureTempdir() (string, error) {
	if b.tempdir != "" {
		return b.tempdir, nil
	}
	dir, err := ioutil.TempDir("/var/tmp", "vmtest-qemu")
	if err != nil {
		return "", err
	}
	b.tempdir = dir
	return dir, nil
}

// checkAntiBypass enforces invariant 1 from the VM Launcher design:
// firmware-mediated boot and direct-kernel load are mutually
// exclusive claims about what is under test.
func (b *QemuBuilder) checkAntiBypass() {
	if b.FirmwareCode != "" && b.KernelPath != "" {
		panic(fmt.Sprintf(
			"ARCHITECTURAL CHEAT BLOCKED: firmware code %q is set together with "+
				"direct kernel %q. Direct-kernel boot bypasses UEFI firmware entirely "+
				"(no OVMF execution, no boot entry resolution, no bootloader load). "+
				"Remove one of the two: use .FirmwareCode with .ISOPath/.DiskPath and "+
				".BootOrder to test real firmware boot, or use BuildDirectBootDebug "+
				"without FirmwareCode to debug the kernel/initramfs in isolation.",
			b.FirmwareCode, b.KernelPath))
	}
}

func (b *QemuBuilder) baseArgv() []string {
	argv := []string{
		"qemu-system-x86_64",
		"-enable-kvm",
		"-m", strconv.Itoa(b.Memory),
		"-machine", "q35",
		"-cpu", "host",
	}
	if b.NoReboot {
		argv = append(argv, "-no-reboot")
	}
	if b.NoGraphics {
		argv = append(argv, "-display", "none")
	}
	if b.UserNetwork {
		argv = append(argv, "-netdev", "user,id=net0", "-device", "virtio-net-pci,netdev=net0")
	} else {
		argv = append(argv, "-net", "none")
	}
	if b.DiskPath != "" {
		argv = append(argv, "-drive", fmt.Sprintf("if=virtio,file=%s,format=qcow2", b.DiskPath))
	}
	if b.ISOPath != "" {
		argv = append(argv, "-drive", fmt.Sprintf("if=none,id=cdrom0,file=%s,media=cdrom", b.ISOPath),
			"-device", "virtio-scsi-pci,id=scsi0",
			"-device", "scsi-cd,bus=scsi0.0,drive=cdrom0")
	}
	if b.BootOrder != "" {
		argv = append(argv, "-boot", "order="+b.BootOrder)
	}
	if b.FirmwareCode != "" {
		argv = append(argv, "-drive", fmt.Sprintf("if=pflash,format=raw,readonly=on,file=%s", b.FirmwareCode))
		if b.FirmwareVars != "" {
			argv = append(argv, "-drive", fmt.Sprintf("if=pflash,format=raw,file=%s", b.FirmwareVars))
		}
	}
	if b.FwCfg != nil {
		argv = append(argv, "-fw_cfg", fmt.Sprintf("name=%s,file=%s", b.FwCfg.Name, b.FwCfg.Path))
	}
	return argv
}

// BuildPiped builds the command for serial-driven tests: stdin/stdout
// wired to the controller, stderr inherited.
func (b *QemuBuilder) BuildPiped() (*vexec.ExecCmd, error) {
	b.checkAntiBypass()
	argv := b.baseArgv()
	argv = append(argv, "-serial", "mon:stdio")

	cmd := vexec.Command(argv[0], argv[1:]...)
	// Stdin/Stdout are left unset here; callers wire them via
	// StdinPipe()/StdoutPipe() before Start().
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGTERM}
	return cmd, nil
}

// BuildControlSocket builds the command for machine-protocol control:
// stdin/stdout suppressed, a QMP control socket opened instead.
func (b *QemuBuilder) BuildControlSocket() (*vexec.ExecCmd, error) {
	b.checkAntiBypass()
	if b.ControlSocketPath == "" {
		dir, err := b.ensureTempdir()
		if err != nil {
			return nil, err
		}
		b.ControlSocketPath = filepath.Join(dir, "qmp.sock")
	}

	argv := b.baseArgv()
	argv = append(argv, "-qmp", fmt.Sprintf("unix:%s,server=on,wait=off", b.ControlSocketPath))

	cmd := vexec.Command(argv[0], argv[1:]...)
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGTERM}
	return cmd, nil
}

// BuildDirectBootDebug builds a direct kernel+initrd boot command,
// bypassing firmware and disk-as-boot entirely. This is only for
// diagnosing initramfs problems independently of the firmware boot
// path; callers must label results as non-production in the UI.
//
// It panics if FirmwareCode is set: this method exists precisely to
// skip firmware, so claiming both would be self-contradictory.
func (b *QemuBuilder) BuildDirectBootDebug() (*vexec.ExecCmd, error) {
	if b.FirmwareCode != "" {
		panic("BuildDirectBootDebug cannot be used with FirmwareCode set — it bypasses " +
			"UEFI entirely. Clear FirmwareCode to use direct kernel boot.")
	}
	if b.KernelPath == "" {
		panic("BuildDirectBootDebug requires KernelPath to be set")
	}

	argv := []string{
		"qemu-system-x86_64",
		"-enable-kvm",
		"-m", strconv.Itoa(b.Memory),
		"-machine", "q35",
		"-cpu", "host",
		"-kernel", b.KernelPath,
		"-serial", "mon:stdio",
		"-display", "none",
	}
	if b.InitrdPath != "" {
		argv = append(argv, "-initrd", b.InitrdPath)
	}
	if b.KernelArgs != "" {
		argv = append(argv, "-append", b.KernelArgs)
	}
	if b.NoReboot {
		argv = append(argv, "-no-reboot")
	}

	cmd := vexec.Command(argv[0], argv[1:]...)
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGTERM}
	return cmd, nil
}

// Cleanup removes the builder's temp directory, if one was allocated.
func (b *QemuBuilder) Cleanup() {
	if b.tempdir != "" {
		os.RemoveAll(b.tempdir)
		b.tempdir = ""
	}
}
