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

package qemu

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/coreos/pkg/capnslog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var plog = capnslog.NewPackageLogger("github.com/ridgeline-labs/vmtest", "qemu")

// firmwareCodeCandidates and firmwareVarsCandidates are fixed, ordered
// search lists for the UEFI firmware image and its variable store
// template, reflecting the handful of paths common distros install
// OVMF to.
var firmwareCodeCandidates = []string{
	"/usr/share/edk2/ovmf/OVMF_CODE.fd",
	"/usr/share/OVMF/OVMF_CODE.fd",
	"/usr/share/OVMF/OVMF_CODE_4M.fd",
	"/usr/share/edk2-ovmf/x64/OVMF_CODE.fd",
	"/run/libvirt/nix-ovmf/OVMF_CODE.fd",
}

var firmwareVarsCandidates = []string{
	"/usr/share/edk2/ovmf/OVMF_VARS.fd",
	"/usr/share/OVMF/OVMF_VARS.fd",
	"/usr/share/OVMF/OVMF_VARS_4M.fd",
	"/usr/share/edk2-ovmf/x64/OVMF_VARS.fd",
	"/run/libvirt/nix-ovmf/OVMF_VARS.fd",
}

// FindFirmwareCode returns the first existing candidate firmware code
// image, or an error naming every path searched.
func FindFirmwareCode() (string, error) {
	return firstExisting(firmwareCodeCandidates, "firmware code")
}

// FindFirmwareVars returns the first existing candidate firmware
// variable-store template.
func FindFirmwareVars() (string, error) {
	return firstExisting(firmwareVarsCandidates, "firmware vars")
}

func firstExisting(candidates []string, label string) (string, error) {
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", errors.Errorf("%s not found — UEFI boot required (searched: %v)", label, candidates)
}

// NewSessionID returns an identifier suitable for naming per-session
// scratch files (firmware-vars copy, disk image, control socket) so
// that concurrent invocations from different lock-holders over time
// never collide on disk even after a crash left stale files behind.
func NewSessionID() string {
	return uuid.NewString()
}

// SetupFirmwareVars copies the firmware-vars template to a fresh,
// writable per-session path under dir, replacing any file already
// there. The copy must succeed and be writable, since the firmware
// will mutate it as the guest boots.
func SetupFirmwareVars(templatePath, dir, sessionID string) (string, error) {
	dst := filepath.Join(dir, "vmtest-vars-"+sessionID+".fd")
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return "", errors.Wrapf(err, "removing stale firmware vars copy %s", dst)
	}

	src, err := os.Open(templatePath)
	if err != nil {
		return "", errors.Wrapf(err, "opening firmware vars template %s", templatePath)
	}
	defer src.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", errors.Wrapf(err, "creating firmware vars copy %s", dst)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return "", errors.Wrapf(err, "copying firmware vars to %s", dst)
	}

	return dst, nil
}

// CreateDisk creates a fresh sparse qcow2 disk image of the given size
// (an opaque string like "20G" consumed by qemu-img), replacing any
// existing file at path.
func CreateDisk(path, size string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing stale disk image %s", path)
	}

	cmd := exec.Command("qemu-img", "create", "-f", "qcow2", path, size)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "qemu-img create failed: %s", string(out))
	}
	return nil
}
