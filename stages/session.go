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

package stages

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/ridgeline-labs/vmtest/bootinject"
	"github.com/ridgeline-labs/vmtest/distro"
	"github.com/ridgeline-labs/vmtest/qemu"
	"github.com/ridgeline-labs/vmtest/serial"
	vexec "github.com/ridgeline-labs/vmtest/system/exec"
)

// Session bundles a running guest with the console attached to it, so
// stage code has one object to tear down regardless of which spawn
// variant produced it.
type Session struct {
	Console  *Console
	diskPath string

	cmd     *vexec.ExecCmd
	builder *qemu.QemuBuilder
	lock    *qemu.TestLock
}

// Console is an alias so callers of this package don't need a second
// import for the type returned by every spawn function.
type Console = serial.Console

// settleDelay is how long a freshly spawned VM is given before its
// console is considered attachable; the firmware and early boot
// produce a burst of output that a Boot Waiter should observe from
// the start, not mid-stream.
const settleDelay = 2 * time.Second

// tempDiskPath and tempVarsPath follow the original's
// std::env::temp_dir()-based naming so that stale files from a crashed
// run are identifiable and collide deterministically across reruns of
// the same variant, rather than accumulating unboundedly.
func tempDiskPath(variantID string) string {
	return filepath.Join(os.TempDir(), "vmtest-"+variantID+"-disk.qcow2")
}

func tempVarsPath(variantID string) string {
	return filepath.Join(os.TempDir(), "vmtest-"+variantID+"-vars.fd")
}

// spawn starts b and wraps its console, applying the common settle
// delay every session variant needs after qemu forks.
//
// Before touching qemu at all, it kills any stray hypervisor left over
// from a prior crashed run and takes the process-wide test lock:
// holding that lock is a precondition for spawning any VM, since two
// concurrent hypervisors racing for the same firmware-vars file or
// disk image would silently corrupt each other. The lock is released
// in Close, so it is held for exactly the session's lifetime.
func spawn(b *qemu.QemuBuilder) (*Session, error) {
	qemu.KillStragglers()
	lock, err := qemu.AcquireTestLock(qemu.DefaultLockPath)
	if err != nil {
		return nil, errors.Wrap(err, "acquiring test lock")
	}

	if injection, err := bootinject.FromEnv(); err != nil {
		lock.Release()
		return nil, errors.Wrap(err, "resolving boot injection")
	} else if injection != nil && b.FwCfg == nil {
		b.FwCfg = &qemu.FwCfgPayload{Name: injection.FwCfgName, Path: injection.PayloadFile}
	}

	cmd, err := b.BuildPiped()
	if err != nil {
		lock.Release()
		return nil, errors.Wrap(err, "building qemu command")
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		lock.Release()
		return nil, errors.Wrap(err, "opening qemu stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		lock.Release()
		return nil, errors.Wrap(err, "opening qemu stdout")
	}

	if err := cmd.Start(); err != nil {
		lock.Release()
		return nil, errors.Wrap(err, "starting qemu")
	}

	time.Sleep(settleDelay)

	console := serial.NewConsole(cmd, stdin, stdout)
	return &Session{Console: console, cmd: cmd, builder: b, lock: lock}, nil
}

// Close tears down the guest and its builder-owned scratch files.
// Killing an already-exited process is tolerated: every stage function
// calls Close via defer regardless of whether it already asked the
// guest to power off.
func (s *Session) Close() {
	if s.Console != nil {
		s.Console.Close()
	}
	_ = s.cmd.Kill()
	_ = s.cmd.Wait()
	if s.builder != nil {
		s.builder.Cleanup()
	}
	_ = s.lock.Release()
}

// firmwareFor resolves the fixed OVMF code image and prepares a fresh,
// writable per-session copy of the variable store template, mirroring
// setup_ovmf_vars in the original session layer.
func firmwareFor(sessionID string) (code, vars string, err error) {
	code, err = qemu.FindFirmwareCode()
	if err != nil {
		return "", "", err
	}
	varsTemplate, err := qemu.FindFirmwareVars()
	if err != nil {
		return "", "", err
	}
	vars, err = qemu.SetupFirmwareVars(varsTemplate, os.TempDir(), sessionID)
	if err != nil {
		return "", "", err
	}
	return code, vars, nil
}

// SpawnLive boots isoPath as a live CD with no disk attached and no
// persisted OS underneath: used for Stage 1 (boot verification) and
// Stage 2 (live tool checks).
func SpawnLive(isoPath string, profile *distro.Profile) (*Session, error) {
	sessionID := qemu.NewSessionID()
	code, vars, err := firmwareFor(sessionID)
	if err != nil {
		return nil, err
	}

	b := qemu.NewQemuBuilder()
	b.ISOPath = isoPath
	b.FirmwareCode = code
	b.FirmwareVars = vars
	b.BootOrder = "dc"
	b.UserNetwork = true

	return spawn(b)
}

// SpawnLiveWithDisk boots isoPath as a live CD with a fresh disk
// attached, the configuration Stage 3 installs onto. diskSize is an
// opaque qemu-img size string, e.g. "20G".
func SpawnLiveWithDisk(isoPath, variantID, diskSize string) (*Session, error) {
	sessionID := qemu.NewSessionID()
	code, vars, err := firmwareFor(sessionID)
	if err != nil {
		return nil, err
	}

	diskPath := tempDiskPath(variantID)
	if err := qemu.CreateDisk(diskPath, diskSize); err != nil {
		return nil, err
	}

	b := qemu.NewQemuBuilder()
	b.ISOPath = isoPath
	b.DiskPath = diskPath
	b.FirmwareCode = code
	b.FirmwareVars = vars
	b.BootOrder = "dc"
	b.UserNetwork = true

	session, err := spawn(b)
	if err != nil {
		return nil, err
	}
	session.diskPath = diskPath
	return session, nil
}

// SpawnInstalled boots variantID's persisted disk directly, with no
// install medium attached: used for Stages 4-6, which exercise the
// system Stage 3 actually installed, not the live environment.
// It requires Stage 3 to have already created the disk at
// tempDiskPath(variantID); a missing disk means Stage 3 was never run
// (or its artifacts were cleaned up), which the caller should treat as
// a gating failure, not attempt to paper over here.
func SpawnInstalled(variantID string) (*Session, error) {
	diskPath := tempDiskPath(variantID)
	if _, err := os.Stat(diskPath); err != nil {
		return nil, errors.Wrapf(err, "no installed disk for %s — run Stage 3 first", variantID)
	}

	sessionID := qemu.NewSessionID()
	code, vars, err := firmwareFor(sessionID)
	if err != nil {
		return nil, err
	}

	b := qemu.NewQemuBuilder()
	b.DiskPath = diskPath
	b.FirmwareCode = code
	b.FirmwareVars = vars
	b.BootOrder = "c"
	b.UserNetwork = true

	session, err := spawn(b)
	if err != nil {
		return nil, err
	}
	session.diskPath = diskPath
	return session, nil
}
