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

const squashfsCDROMPath = "/media/cdrom/live/filesystem.squashfs"

// MountInstallMedia is step 7.
type MountInstallMedia struct{}

func (MountInstallMedia) Num() int        { return 7 }
func (MountInstallMedia) Name() string    { return "Mount Installation Media" }
func (MountInstallMedia) Phase() int      { return phaseOf(7) }
func (MountInstallMedia) Ensures() string { return "Installation media (ISO) is mounted and squashfs is accessible" }

func (MountInstallMedia) Execute(console *serial.Console, _ *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(7, "Mount Installation Media")

	mountCheck, err := console.Exec("test -d /media/cdrom/live && echo MOUNTED", 5*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, strings.Contains(mountCheck.Output, "MOUNTED"),
		"ISO mounted", "installation media is accessible",
		"ISO not mounted at /media/cdrom; init should mount this automatically")
	if !r.Passed {
		r.Duration = time.Since(start)
		return r, nil
	}
	r.Pass("ISO mounted", "/media/cdrom/live exists")

	squashfsCheck, err := console.Exec("ls -la "+squashfsCDROMPath, 5*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, squashfsCheck.Success() && strings.Contains(squashfsCheck.Output, "filesystem.squashfs"),
		"Squashfs accessible", "squashfs image contains the base system",
		"squashfs not found at "+squashfsCDROMPath)
	if r.Passed {
		lines := strings.Split(squashfsCheck.Output, "\n")
		evidence := "found"
		if len(lines) > 0 && lines[0] != "" {
			evidence = strings.TrimSpace(lines[0])
		}
		r.Pass("Squashfs accessible", evidence)
	}

	r.Duration = time.Since(start)
	return r, nil
}

// ExtractBaseSystem is step 8: runs the variant's extraction tool
// (profile.ExtractTool) to unpack the squashfs onto the mounted root.
type ExtractBaseSystem struct{}

func (ExtractBaseSystem) Num() int     { return 8 }
func (ExtractBaseSystem) Name() string { return "Extract Base System" }
func (ExtractBaseSystem) Phase() int   { return phaseOf(8) }
func (ExtractBaseSystem) Ensures() string {
	return "Base system is extracted with all essential directories present"
}

func (ExtractBaseSystem) Execute(console *serial.Console, profile *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(8, "Extract Base System")

	toolCheck, err := console.Exec("which "+profile.ExtractTool, 5*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, toolCheck.Success(), profile.ExtractTool+" available",
		profile.ExtractTool+" installer is available in live ISO",
		profile.ExtractTool+" not found; ISO may be incomplete")
	if !r.Passed {
		r.Duration = time.Since(start)
		return r, nil
	}
	r.Pass(profile.ExtractTool+" available", strings.TrimSpace(toolCheck.Output))

	extract, err := console.ExecStreaming(profile.ExtractTool+" --force /mnt", 60*time.Second, nil)
	if err != nil {
		return nil, err
	}
	Ensure(r, extract.Success(), profile.ExtractTool+" completed",
		"base system files are actually extracted to disk",
		fmt.Sprintf("%s failed (exit %d): %s", profile.ExtractTool, extract.ExitCode, extract.Output))
	if !r.Passed {
		r.Duration = time.Since(start)
		return r, nil
	}
	r.Pass(profile.ExtractTool+" completed", "exit 0")

	verify, err := console.Exec("ls /mnt/bin /mnt/usr /mnt/etc 2>/dev/null && echo VERIFY_OK", 5*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, strings.Contains(verify.Output, "VERIFY_OK"),
		"Base system verified", "essential FHS directories exist for a bootable system",
		"essential directories missing after extraction; /bin, /usr, /etc must exist")
	if r.Passed {
		r.Pass("Base system verified", "/mnt/{bin,usr,etc} exist")
	}

	r.Duration = time.Since(start)
	return r, nil
}

// GenerateFstab is step 9: runs the variant's fstab-generation tool.
type GenerateFstab struct{}

func (GenerateFstab) Num() int     { return 9 }
func (GenerateFstab) Name() string { return "Generate fstab" }
func (GenerateFstab) Phase() int   { return phaseOf(9) }
func (GenerateFstab) Ensures() string {
	return "System has valid /etc/fstab with correct UUIDs for automatic mounting"
}

func (GenerateFstab) Execute(console *serial.Console, profile *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(9, "Generate fstab")

	toolCheck, err := console.Exec("which "+profile.FstabTool, 5*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, toolCheck.Success(), profile.FstabTool+" available",
		profile.FstabTool+" is available in live ISO",
		profile.FstabTool+" not found; ISO may be incomplete")
	if !r.Passed {
		r.Duration = time.Since(start)
		return r, nil
	}
	r.Pass(profile.FstabTool+" available", strings.TrimSpace(toolCheck.Output))

	fstab, err := console.Exec(profile.FstabTool+" /mnt >> /mnt/etc/fstab", 10*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, fstab.Success(), profile.FstabTool+" completed",
		"fstab is generated with correct UUIDs",
		fmt.Sprintf("%s failed (exit %d): %s", profile.FstabTool, fstab.ExitCode, fstab.Output))
	if !r.Passed {
		r.Duration = time.Since(start)
		return r, nil
	}
	r.Pass(profile.FstabTool+" completed", "exit 0")

	verify, err := console.Exec("cat /mnt/etc/fstab", 5*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, strings.Contains(verify.Output, "UUID="),
		"fstab contains UUIDs", "fstab uses UUIDs for reliable mounting",
		"fstab doesn't contain UUID entries:\n"+verify.Output)
	if r.Passed {
		uuidLine := "UUID= found"
		for _, line := range strings.Split(verify.Output, "\n") {
			if strings.Contains(line, "UUID=") {
				uuidLine = strings.TrimSpace(line)
				break
			}
		}
		r.Pass("fstab contains UUIDs", uuidLine)
	}

	r.Duration = time.Since(start)
	return r, nil
}

// VerifyChroot is step 10: confirm the variant's chroot helper works.
type VerifyChroot struct{}

func (VerifyChroot) Num() int        { return 10 }
func (VerifyChroot) Name() string    { return "Verify Chroot" }
func (VerifyChroot) Phase() int      { return phaseOf(10) }
func (VerifyChroot) Ensures() string { return "Chroot helper can execute commands in the installed system" }

func (VerifyChroot) Execute(console *serial.Console, profile *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(10, "Verify Chroot")

	toolCheck, err := console.Exec("which "+profile.ChrootTool, 5*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, toolCheck.Success(), profile.ChrootTool+" available",
		profile.ChrootTool+" is available for system configuration",
		profile.ChrootTool+" not found; ISO may be incomplete")
	if !r.Passed {
		r.Duration = time.Since(start)
		return r, nil
	}
	r.Pass(profile.ChrootTool+" available", strings.TrimSpace(toolCheck.Output))

	verify, err := console.ExecChroot(profile.ChrootTool, "/mnt", "echo CHROOT_OK", 10*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, strings.Contains(verify.Output, "CHROOT_OK"),
		profile.ChrootTool+" functional", "commands execute inside the installed system",
		profile.ChrootTool+" test failed: "+verify.Output)
	if r.Passed {
		r.Pass(profile.ChrootTool+" functional", "echo CHROOT_OK returned CHROOT_OK")
	}

	r.Duration = time.Since(start)
	return r, nil
}
