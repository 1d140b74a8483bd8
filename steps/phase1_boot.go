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

// VerifyUefi is step 1: confirm the live environment booted via UEFI,
// not legacy BIOS, by checking for the efivars mount.
type VerifyUefi struct{}

func (VerifyUefi) Num() int         { return 1 }
func (VerifyUefi) Name() string     { return "Verify UEFI Boot" }
func (VerifyUefi) Phase() int       { return phaseOf(1) }
func (VerifyUefi) Ensures() string  { return "System booted via UEFI firmware, not legacy BIOS" }

func (VerifyUefi) Execute(console *serial.Console, _ *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(1, "Verify UEFI Boot")

	check, err := console.Exec("test -d /sys/firmware/efi/efivars && echo UEFI_OK", 5*time.Second)
	if err != nil {
		return nil, err
	}
	Ensure(r, strings.Contains(check.Output, "UEFI_OK"),
		"UEFI mode detected",
		"system is booted via UEFI firmware",
		"efivars not mounted — system booted via legacy BIOS or firmware is misconfigured")
	if r.Passed {
		r.Pass("UEFI mode detected", "/sys/firmware/efi/efivars present")
	}

	r.Duration = time.Since(start)
	return r, nil
}

// SyncClock is step 2: confirm the guest's clock is sane (not stuck at
// the UNIX epoch or some other clearly-wrong default), since a bad
// clock breaks TLS and package-manager signature checks downstream.
type SyncClock struct{}

func (SyncClock) Num() int        { return 2 }
func (SyncClock) Name() string    { return "Sync Clock" }
func (SyncClock) Phase() int      { return phaseOf(2) }
func (SyncClock) Ensures() string { return "System clock reads a plausible current year" }

func (SyncClock) Execute(console *serial.Console, _ *distro.Profile) (*Result, error) {
	start := time.Now()
	r := NewResult(2, "Sync Clock")

	check, err := console.Exec("date +%Y", 5*time.Second)
	if err != nil {
		return nil, err
	}
	year := strings.TrimSpace(check.Output)
	plausible := len(year) == 4 && year >= "2024"
	Ensure(r, plausible, "Clock reads a plausible year",
		"year >= 2024", "date +%Y returned "+year)
	if r.Passed {
		r.Pass("Clock reads a plausible year", year)
	}

	r.Duration = time.Since(start)
	return r, nil
}
