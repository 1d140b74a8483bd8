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

// VerifySystemdBoot is step 19: after the reboot into the installed
// system, confirm PID 1 is the expected init and the default boot
// target/runlevel was reached without failed units. Despite the name
// this step runs for both systemd and OpenRC variants — it is the
// "did init actually finish" check for whichever init the profile uses.
type VerifySystemdBoot struct{}

func (VerifySystemdBoot) Num() int        { return 19 }
func (VerifySystemdBoot) Name() string    { return "Verify Init Reached Target" }
func (VerifySystemdBoot) Phase() int      { return phaseOf(19) }
func (VerifySystemdBoot) Ensures() string { return "Init system started and reached its default target/runlevel without failures" }

func (VerifySystemdBoot) Execute(console *serial.Console, profile *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(19, "Verify Init Reached Target")

	pid1, err := console.Exec("ps -p 1 -o comm=", 5*time.Second)
	if err != nil {
		return nil, err
	}
	pid1Name := strings.TrimSpace(pid1.Output)
	Ensure(r, strings.Contains(pid1Name, profile.PID1Name),
		"PID 1 is expected init",
		profile.PID1Name, pid1Name)
	if r.Passed {
		r.Pass("PID 1 is expected init", pid1Name)
	}

	target, err := console.Exec(profile.BootTargetReachedCommand(), 10*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, target.Success(), "Default target reached",
		"boot reached its default target/runlevel",
		fmt.Sprintf("target-reached check failed (exit %d): %s", target.ExitCode, target.Output))
	if r.Passed {
		r.Pass("Default target reached", strings.TrimSpace(target.Output))
	}

	failed, err := console.Exec(profile.FailedServicesCommand(), 10*time.Second)
	if err != nil {
		return nil, err
	}
	failedList := strings.TrimSpace(failed.Output)
	if failedList == "" {
		r.Pass("No failed services", "failed-units query returned nothing")
	} else {
		r.Warn("No failed services", "the following units/services reported failure: "+failedList)
	}

	r.Duration = time.Since(start)
	return r, nil
}

// VerifyHostname is step 20.
type VerifyHostname struct{}

func (VerifyHostname) Num() int        { return 20 }
func (VerifyHostname) Name() string    { return "Verify Hostname" }
func (VerifyHostname) Phase() int      { return phaseOf(20) }
func (VerifyHostname) Ensures() string { return "Installed system reports the configured hostname" }

func (VerifyHostname) Execute(console *serial.Console, profile *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(20, "Verify Hostname")

	check, err := console.Exec("hostname", 5*time.Second)
	if err != nil {
		return nil, err
	}
	actual := strings.TrimSpace(check.Output)
	Ensure(r, actual == profile.Hostname,
		"Hostname matches configuration", profile.Hostname, actual)
	if r.Passed {
		r.Pass("Hostname matches configuration", actual)
	}

	r.Duration = time.Since(start)
	return r, nil
}

// VerifyUserLogin is step 21: re-authenticate as the created user over
// the same serial console to prove the credentials set in CreateUser
// (step 15) actually work post-install, not merely that useradd
// returned success at install time.
type VerifyUserLogin struct{}

func (VerifyUserLogin) Num() int        { return 21 }
func (VerifyUserLogin) Name() string    { return "Verify User Login" }
func (VerifyUserLogin) Phase() int      { return phaseOf(21) }
func (VerifyUserLogin) Ensures() string { return "Created user account can authenticate and obtain a shell" }

func (VerifyUserLogin) Execute(console *serial.Console, profile *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(21, "Verify User Login")

	whoami, err := console.Exec("whoami", 5*time.Second)
	if err != nil {
		return nil, err
	}
	current := strings.TrimSpace(whoami.Output)
	if current == profile.DefaultUsername {
		r.Pass("User session active", "already logged in as "+current)
		r.Duration = time.Since(start)
		return r, nil
	}

	Ensure(r, current == "root",
		"Console session is root before user-login test",
		"root", current)
	if !r.Passed {
		r.Duration = time.Since(start)
		return r, nil
	}

	su, err := console.Exec(fmt.Sprintf("su - %s -c whoami", profile.DefaultUsername), 10*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, su.Success() && strings.Contains(su.Output, profile.DefaultUsername),
		"User can authenticate",
		"su to "+profile.DefaultUsername+" succeeds",
		fmt.Sprintf("su failed (exit %d): %s", su.ExitCode, su.Output))
	if r.Passed {
		r.Pass("User can authenticate", strings.TrimSpace(su.Output))
	}

	r.Duration = time.Since(start)
	return r, nil
}

// VerifyNetworking is step 22.
type VerifyNetworking struct{}

func (VerifyNetworking) Num() int        { return 22 }
func (VerifyNetworking) Name() string    { return "Verify Networking" }
func (VerifyNetworking) Phase() int      { return phaseOf(22) }
func (VerifyNetworking) Ensures() string { return "Network interface is up and has an address" }

func (VerifyNetworking) Execute(console *serial.Console, _ *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(22, "Verify Networking")

	link, err := console.Exec("ip -o link show | grep -v 'lo:'", 5*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, link.Success() && strings.TrimSpace(link.Output) != "",
		"Non-loopback interface present",
		"at least one non-loopback network interface exists",
		"no non-loopback interfaces found")
	if r.Passed {
		r.Pass("Non-loopback interface present", strings.TrimSpace(strings.Split(link.Output, "\n")[0]))
	}

	addr, err := console.Exec("ip -o -4 addr show | grep -v '127.0.0.1'", 10*time.Second)
	if err != nil {
		return nil, err
	}
	if addr.Success() && strings.TrimSpace(addr.Output) != "" {
		r.Pass("IPv4 address assigned", strings.TrimSpace(strings.Split(addr.Output, "\n")[0]))
	} else {
		r.Warn("IPv4 address assigned", "no non-loopback IPv4 address found; DHCP may still be settling")
	}

	r.Duration = time.Since(start)
	return r, nil
}

// VerifySudo is step 23.
type VerifySudo struct{}

func (VerifySudo) Num() int        { return 23 }
func (VerifySudo) Name() string    { return "Verify Sudo Access" }
func (VerifySudo) Phase() int      { return phaseOf(23) }
func (VerifySudo) Ensures() string { return "Created user can escalate privileges via sudo" }

func (VerifySudo) Execute(console *serial.Console, profile *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(23, "Verify Sudo Access")

	hasSudoGroup := false
	for _, g := range profile.UserGroups {
		if g == "sudo" || g == "wheel" {
			hasSudoGroup = true
			break
		}
	}
	if !hasSudoGroup {
		r.Skip("Sudo access", "no sudo/wheel group configured for this variant")
		r.Duration = time.Since(start)
		return r, nil
	}

	sudo, err := console.Exec(fmt.Sprintf("su - %s -c 'sudo -n whoami'", profile.DefaultUsername), 10*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, sudo.Success() && strings.Contains(sudo.Output, "root"),
		"Sudo escalation works",
		"sudo -n whoami prints root",
		fmt.Sprintf("sudo failed (exit %d): %s", sudo.ExitCode, sudo.Output))
	if r.Passed {
		r.Pass("Sudo escalation works", strings.TrimSpace(sudo.Output))
	}

	r.Duration = time.Since(start)
	return r, nil
}

// VerifyEssentialCommands is step 24: the last step, a broad sweep
// confirming the base toolset promised by the variant's InstalledTools
// is actually present and executable.
type VerifyEssentialCommands struct{}

func (VerifyEssentialCommands) Num() int        { return 24 }
func (VerifyEssentialCommands) Name() string    { return "Verify Essential Commands" }
func (VerifyEssentialCommands) Phase() int      { return phaseOf(24) }
func (VerifyEssentialCommands) Ensures() string { return "All tools this variant promises on the installed system are present" }

func (VerifyEssentialCommands) Execute(console *serial.Console, profile *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(24, "Verify Essential Commands")

	if len(profile.InstalledTools) == 0 {
		r.Skip("Essential commands", "variant declares no InstalledTools to verify")
		r.Duration = time.Since(start)
		return r, nil
	}

	var missing []string
	for _, tool := range profile.InstalledTools {
		check, err := console.Exec("which "+tool, 5*time.Second)
		if err != nil {
			return nil, err
		}
		if check.Success() {
			r.Pass("Command present: "+tool, strings.TrimSpace(check.Output))
		} else {
			missing = append(missing, tool)
		}
	}

	if len(missing) > 0 {
		r.Fail("All essential commands present",
			"every tool in InstalledTools resolves via which",
			"missing: "+strings.Join(missing, ", "))
	}

	r.Duration = time.Since(start)
	return r, nil
}
