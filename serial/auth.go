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

const shellTestMarker = "___LOGIN_OK___"

type loginState int

const (
	loginWaitPrompt loginState = iota
	loginSentUsername
	loginSentPassword
	loginAwaitingShellTest
)

// Login drives the console through a login prompt (or, if the guest
// autologs in, detects that directly from a bare shell prompt) and
// proves the resulting shell is live by round-tripping a marker
// command. After each "login incorrect" it goes back to waiting for the
// login prompt, with no retry limit other than timeout.
func (c *Console) Login(username, password string, timeout time.Duration) error {
	// Let boot output settle and getty fully initialize before reading
	// for a prompt; probing too early can see a half-printed banner.
	time.Sleep(3000 * time.Millisecond)
	c.drainOutput(0)

	state := loginWaitPrompt
	deadline := time.Now().Add(timeout)
	var lastLines []string

	recordContext := func(line string) {
		lastLines = append(lastLines, line)
		if len(lastLines) > 50 {
			lastLines = lastLines[1:]
		}
	}

	sendShellTest := func() error {
		if err := c.writeLine("echo " + shellTestMarker); err != nil {
			return err
		}
		state = loginAwaitingShellTest
		return nil
	}

	for time.Now().Before(deadline) {
		line, ok, disconnected := c.recvLine(500 * time.Millisecond)
		if disconnected {
			return errors.New("console disconnected during login")
		}
		if !ok {
			// No output in this window: if we've sent the password but
			// haven't yet probed for a shell, do it now rather than
			// waiting for more banner text that may never come.
			if state == loginSentPassword {
				time.Sleep(500 * time.Millisecond)
				if err := sendShellTest(); err != nil {
					return err
				}
			}
			continue
		}

		recordContext(line)
		clean := StripANSI(line)
		trimmed := strings.TrimSpace(clean)
		lower := strings.ToLower(clean)

		if state == loginAwaitingShellTest {
			if strings.Contains(trimmed, shellTestMarker) &&
				!strings.HasPrefix(trimmed, "echo ") &&
				!strings.Contains(lower, "login:") {
				time.Sleep(500 * time.Millisecond)
				c.drainOutput(0)
				return nil
			}
			if strings.Contains(lower, "login:") {
				plog.Warningf("saw login prompt again after shell test, retrying login")
				state = loginWaitPrompt
			}
			continue
		}

		switch {
		case strings.Contains(lower, "login:") && state == loginWaitPrompt:
			time.Sleep(200 * time.Millisecond)
			if err := c.writeLine(username); err != nil {
				return err
			}
			state = loginSentUsername

		case strings.Contains(lower, "password") && state == loginSentUsername:
			time.Sleep(200 * time.Millisecond)
			if err := c.writeLine(password); err != nil {
				return err
			}
			state = loginSentPassword
			time.Sleep(1000 * time.Millisecond)
			c.drainOutput(0)
			if err := sendShellTest(); err != nil {
				return err
			}

		case strings.Contains(lower, "login incorrect") || strings.Contains(lower, "authentication failure"):
			plog.Warningf("login incorrect, retrying")
			state = loginWaitPrompt

		case state == loginWaitPrompt && (strings.HasSuffix(trimmed, "#") || strings.HasSuffix(trimmed, "$")):
			// No username/password prompt seen at all: likely autologin.
			if err := sendShellTest(); err != nil {
				return err
			}
		}
	}

	context := strings.Join(lastLines, "\n")
	return errors.Errorf("timeout waiting for login to complete\nlast output:\n%s", context)
}
