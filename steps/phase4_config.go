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

const defaultTimezone = "UTC"
const defaultLocale = "en_US.UTF-8"

// SetTimezone is step 11.
type SetTimezone struct{}

func (SetTimezone) Num() int        { return 11 }
func (SetTimezone) Name() string    { return "Set Timezone" }
func (SetTimezone) Phase() int      { return phaseOf(11) }
func (SetTimezone) Ensures() string { return "System timezone is configured for correct local time display" }

func (SetTimezone) Execute(console *serial.Console, profile *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(11, "Set Timezone")

	check, err := console.ExecChroot(profile.ChrootTool, "/mnt", "readlink /etc/localtime", 5*time.Second)
	if err != nil {
		return nil, err
	}
	if check.Success() && strings.Contains(check.Output, defaultTimezone) {
		r.Pass("Timezone already correct (skipped)", "/etc/localtime -> "+defaultTimezone)
		r.Duration = time.Since(start)
		return r, nil
	}

	cmd := "ln -sf /usr/share/zoneinfo/" + defaultTimezone + " /etc/localtime"
	tz, err := console.ExecChroot(profile.ChrootTool, "/mnt", cmd, 5*time.Second)
	if err != nil {
		return nil, err
	}
	if tz.Success() {
		r.Pass("Timezone symlink created", "/etc/localtime -> "+defaultTimezone)
	} else {
		r.Fail("Timezone symlink created", "symlink created", fmt.Sprintf("exit %d", tz.ExitCode))
	}

	r.Duration = time.Since(start)
	return r, nil
}

// ConfigureLocale is step 12.
type ConfigureLocale struct{}

func (ConfigureLocale) Num() int        { return 12 }
func (ConfigureLocale) Name() string    { return "Configure Locale" }
func (ConfigureLocale) Phase() int      { return phaseOf(12) }
func (ConfigureLocale) Ensures() string { return "System locale is set for proper character encoding and language" }

func (ConfigureLocale) Execute(console *serial.Console, _ *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(12, "Configure Locale")

	check, err := console.Exec("cat /mnt/etc/locale.conf", 5*time.Second)
	if err != nil {
		return nil, err
	}
	if check.Success() && strings.Contains(check.Output, defaultLocale) {
		r.Pass("locale.conf already correct (skipped)", "LANG="+defaultLocale)
		r.Duration = time.Since(start)
		return r, nil
	}

	if err := console.WriteFile("/mnt/etc/locale.conf", "LANG="+defaultLocale+"\n", 5*time.Second); err != nil {
		return nil, err
	}
	verify, err := console.Exec("cat /mnt/etc/locale.conf", 5*time.Second)
	if err != nil {
		return nil, err
	}
	if strings.Contains(verify.Output, defaultLocale) {
		r.Pass("locale.conf written", "LANG="+defaultLocale)
	} else {
		r.Fail("locale.conf written", "LANG="+defaultLocale, verify.Output)
	}

	r.Duration = time.Since(start)
	return r, nil
}

// SetHostname is step 13.
type SetHostname struct{}

func (SetHostname) Num() int        { return 13 }
func (SetHostname) Name() string    { return "Set Hostname" }
func (SetHostname) Phase() int      { return phaseOf(13) }
func (SetHostname) Ensures() string { return "System has a hostname configured for network identification" }

func (SetHostname) Execute(console *serial.Console, profile *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(13, "Set Hostname")
	hostname := profile.Hostname

	if err := console.WriteFile("/mnt/etc/hostname", hostname+"\n", 5*time.Second); err != nil {
		return nil, err
	}
	hosts := fmt.Sprintf("127.0.0.1   localhost\n::1         localhost\n127.0.1.1   %s.localdomain %s\n", hostname, hostname)
	if err := console.WriteFile("/mnt/etc/hosts", hosts, 5*time.Second); err != nil {
		return nil, err
	}

	verifyHostname, err := console.Exec("cat /mnt/etc/hostname", 5*time.Second)
	if err != nil {
		return nil, err
	}
	verifyHosts, err := console.Exec("cat /mnt/etc/hosts", 5*time.Second)
	if err != nil {
		return nil, err
	}

	found := false
	for _, line := range strings.Split(verifyHostname.Output, "\n") {
		if strings.TrimSpace(line) == hostname {
			found = true
			break
		}
	}
	if found {
		r.Pass("Hostname set", hostname)
	} else {
		r.Fail("Hostname set", hostname, strings.TrimSpace(verifyHostname.Output))
	}

	if strings.Contains(verifyHosts.Output, hostname) {
		r.Pass("Hosts file updated", "127.0.1.1 -> "+hostname)
	}

	r.Duration = time.Since(start)
	return r, nil
}

// SetRootPassword is step 14.
type SetRootPassword struct{}

func (SetRootPassword) Num() int        { return 14 }
func (SetRootPassword) Name() string    { return "Set Root Password" }
func (SetRootPassword) Phase() int      { return phaseOf(14) }
func (SetRootPassword) Ensures() string { return "Root account has a password for emergency system recovery" }

func (SetRootPassword) Execute(console *serial.Console, profile *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(14, "Set Root Password")

	cmd := fmt.Sprintf("echo 'root:%s' | chpasswd", profile.DefaultPassword)
	passwd, err := console.ExecChroot(profile.ChrootTool, "/mnt", cmd, 10*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, passwd.Success(), "Root password set",
		"root account has password for emergency recovery",
		fmt.Sprintf("chpasswd failed (exit %d): %s", passwd.ExitCode, passwd.Output))
	if !r.Passed {
		r.Duration = time.Since(start)
		return r, nil
	}

	verify, err := console.Exec(`grep '^root:' /mnt/etc/shadow | grep -v ':!:' | grep -v ':\*:'`, 5*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, verify.Success(), "Root password set",
		"root password is actually set in /etc/shadow",
		"password not set in /etc/shadow — account still locked")
	if r.Passed {
		r.Pass("Root password set", "root has password hash in /etc/shadow")
	}

	r.Duration = time.Since(start)
	return r, nil
}

// CreateUser is step 15.
type CreateUser struct{}

func (CreateUser) Num() int        { return 15 }
func (CreateUser) Name() string    { return "Create User Account" }
func (CreateUser) Phase() int      { return phaseOf(15) }
func (CreateUser) Ensures() string { return "Primary user account exists with proper groups for daily use" }

func (CreateUser) Execute(console *serial.Console, profile *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(15, "Create User Account")

	username := profile.DefaultUsername
	shell := profile.ChrootShell

	var available []string
	for _, group := range profile.UserGroups {
		check, err := console.ExecChroot(profile.ChrootTool, "/mnt", "getent group "+group, 5*time.Second)
		if err != nil {
			return nil, err
		}
		if check.ExitCode == 0 {
			available = append(available, group)
		}
	}

	groupsStr := strings.Join(available, ",")
	var useraddCmd string
	if len(available) == 0 {
		useraddCmd = fmt.Sprintf("useradd -m -s %s %s", shell, username)
	} else {
		useraddCmd = fmt.Sprintf("useradd -m -s %s -G %s %s", shell, groupsStr, username)
	}

	useradd, err := console.ExecChroot(profile.ChrootTool, "/mnt", useraddCmd, 10*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, useradd.Success(), "User created",
		"primary user account exists for daily operation",
		fmt.Sprintf("useradd failed (exit %d): %s", useradd.ExitCode, useradd.Output))
	if !r.Passed {
		r.Duration = time.Since(start)
		return r, nil
	}
	r.Pass("User created", fmt.Sprintf("user %q with groups: %s", username, groupsStr))

	passwdCmd := fmt.Sprintf("echo '%s:%s' | chpasswd", username, profile.DefaultPassword)
	passwd, err := console.ExecChroot(profile.ChrootTool, "/mnt", passwdCmd, 10*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, passwd.Success(), "User password set",
		"user account has password for authentication",
		fmt.Sprintf("failed to set password for %q (exit %d)", username, passwd.ExitCode))
	if !r.Passed {
		r.Duration = time.Since(start)
		return r, nil
	}
	r.Pass("User password set", fmt.Sprintf("%q has password hash", username))

	verify, err := console.ExecChroot(profile.ChrootTool, "/mnt", "id "+username, 5*time.Second)
	if err != nil {
		return nil, err
	}
	if verify.Success() && strings.Contains(verify.Output, username) {
		r.Pass("User verified", strings.TrimSpace(verify.Output))
	}

	r.Duration = time.Since(start)
	return r, nil
}
