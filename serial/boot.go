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

package serial

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// WaitForLiveBoot blocks until the live ISO environment reaches one of
// profile's LiveBootSuccessPatterns, using stall detection rather than
// a hard deadline: boot may legitimately take an unbounded amount of
// time as long as it keeps producing output, but stalls for
// profile.StallTimeoutSeconds are treated as a hang. Any
// BootErrorPatterns match fails immediately.
func (c *Console) WaitForLiveBoot(successPatterns, errorPatterns []string, stallTimeout time.Duration) error {
	return c.waitForBoot(successPatterns, errorPatterns, nil, stallTimeout)
}

// WaitForInstalledBoot blocks until the installed system reaches one
// of its success patterns (shell-ready marker, login prompt, or the
// target-reached marker — accepting the latter as a fallback for
// serial-console VT quirks that can swallow the literal login prompt).
// Unlike the live-boot wait, service failures are tracked rather than
// treated as fatal, so diagnostics can still be captured after login.
func (c *Console) WaitForInstalledBoot(successPatterns, criticalErrors, serviceFailurePatterns []string, stallTimeout time.Duration) error {
	return c.waitForBoot(successPatterns, criticalErrors, serviceFailurePatterns, stallTimeout)
}

func (c *Console) waitForBoot(successPatterns, errorPatterns, serviceFailurePatterns []string, stallTimeout time.Duration) error {
	trackServiceFailures := serviceFailurePatterns != nil
	lastOutput := time.Now()
	var sawUEFI, sawBootloader, sawKernel bool

	c.clearFailedServices()

	for {
		if time.Since(lastOutput) > stallTimeout {
			var stage string
			switch {
			case sawKernel:
				stage = "kernel started but init STALLED (no output)"
			case sawBootloader:
				stage = "bootloader ran but kernel STALLED (no output)"
			case sawUEFI:
				stage = "UEFI ran but then STALLED (no output)"
			default:
				stage = "no output received — QEMU or serial broken"
			}
			context := strings.Join(c.OutputTail(30), "\n")
			return errors.Errorf("boot stalled: %s\nno output for %s — system appears hung\n\nlast output:\n%s",
				stage, stallTimeout, context)
		}

		line, ok, disconnected := c.recvLine(100 * time.Millisecond)
		if disconnected {
			context := strings.Join(c.OutputTail(20), "\n")
			return errors.Errorf("qemu process died\n\nlast output:\n%s", context)
		}
		if !ok {
			continue
		}
		lastOutput = time.Now()

		if strings.Contains(line, "UEFI") || strings.Contains(line, "BdsDxe") || strings.Contains(line, "EFI") {
			sawUEFI = true
		}
		if strings.Contains(line, "systemd-boot") || strings.Contains(line, "Loading Linux") || strings.Contains(line, "loader") {
			sawBootloader = true
		}
		if strings.Contains(line, "Linux version") || strings.Contains(line, "Booting Linux") || strings.Contains(line, "KASLR") {
			sawKernel = true
		}

		if trackServiceFailures {
			if _, hit := containsAny(line, serviceFailurePatterns); hit {
				c.recordFailedService(line)
				plog.Warningf("service failure observed: %s", strings.TrimSpace(line))
			}
		}

		if pattern, hit := containsAny(line, errorPatterns); hit {
			context := strings.Join(c.OutputTail(30), "\n")
			return errors.Errorf("boot failed: %s\n\ncontext:\n%s", pattern, context)
		}

		if _, hit := containsAny(line, successPatterns); hit {
			time.Sleep(500 * time.Millisecond)
			return nil
		}
	}
}
