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
	"fmt"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
)

// Exec runs command on the guest shell, framing its output with unique
// start/done markers and capturing the exit code embedded in the done
// marker's echo. It synchronizes with the shell first so that output
// from a prior command can never bleed into this one.
func (c *Console) Exec(command string, timeout time.Duration) (CommandResult, error) {
	if err := c.SyncShell(DefaultSyncConfig); err != nil {
		return CommandResult{}, errors.Wrap(err, "syncing shell before exec")
	}

	startMarker, doneMarker := GenerateCommandMarkers()
	fullCmd := fmt.Sprintf("echo '%s'; %s; echo '%s' $?", startMarker, command, doneMarker)
	if err := c.writeLine(fullCmd); err != nil {
		return CommandResult{}, err
	}

	deadline := time.Now().Add(timeout)
	var output strings.Builder
	collecting := false

	for time.Now().Before(deadline) {
		line, ok, disconnected := c.recvLine(100 * time.Millisecond)
		if disconnected {
			return CommandResult{Output: output.String()}, nil
		}
		if !ok {
			continue
		}

		clean := StripANSI(line)
		trimmed := strings.TrimSpace(clean)

		if pattern, hit := containsAny(trimmed, FatalErrorPatterns); hit {
			plog.Errorf("fatal error pattern %q detected during exec of %q", pattern, command)
			output.WriteString(line)
			output.WriteByte('\n')
			return CommandResult{
				ExitCode:       1,
				Output:         output.String(),
				AbortedOnError: true,
			}, nil
		}

		if strings.Contains(trimmed, startMarker) {
			collecting = true
			continue
		}

		if exitCode, found := ParseDoneMarker(trimmed, doneMarker); found {
			return CommandResult{
				Completed: true,
				ExitCode:  exitCode,
				Output:    output.String(),
			}, nil
		}

		if !collecting {
			continue
		}

		isPrompt := strings.Contains(line, "root@") || strings.Contains(line, "# ")
		if !isPrompt && !IsMarkerLine(trimmed) {
			output.WriteString(line)
			output.WriteByte('\n')
		}
	}

	return CommandResult{ExitCode: -1, Output: output.String()}, nil
}

// ExecOK runs command and returns an error unless it completes with
// exit code 0.
func (c *Console) ExecOK(command string, timeout time.Duration) (string, error) {
	result, err := c.Exec(command, timeout)
	if err != nil {
		return "", err
	}
	if !result.Success() {
		return "", errors.Errorf("command failed (exit %d): %s\noutput: %s",
			result.ExitCode, command, result.Output)
	}
	return result.Output, nil
}

// ExecStreaming runs a long-running command with stall detection
// instead of a hard deadline: output is watched continuously and any
// of errorPatterns (in addition to FatalErrorPatterns) causes
// immediate failure, but the command may otherwise run indefinitely as
// long as it keeps producing output. Intended for steps like squashfs
// extraction or dracut regeneration that legitimately run long but
// should fail fast on a real error.
func (c *Console) ExecStreaming(command string, stallTimeout time.Duration, errorPatterns []string) (CommandResult, error) {
	startMarker, doneMarker := GenerateCommandMarkers()
	fullCmd := fmt.Sprintf("echo '%s'; %s; echo '%s' $?", startMarker, command, doneMarker)
	if err := c.writeLine(fullCmd); err != nil {
		return CommandResult{}, err
	}

	lastOutput := time.Now()
	var output strings.Builder
	collecting := false

	for time.Since(lastOutput) <= stallTimeout {
		line, ok, disconnected := c.recvLine(100 * time.Millisecond)
		if disconnected {
			return CommandResult{Output: output.String()}, nil
		}
		if !ok {
			continue
		}
		lastOutput = time.Now()

		clean := StripANSI(line)
		trimmed := strings.TrimSpace(clean)

		if pattern, hit := containsAny(trimmed, errorPatterns); hit {
			plog.Errorf("error pattern %q detected during streaming exec of %q", pattern, command)
			output.WriteString(line)
			output.WriteByte('\n')
			return CommandResult{ExitCode: 1, Output: output.String(), AbortedOnError: true}, nil
		}
		if pattern, hit := containsAny(trimmed, FatalErrorPatterns); hit {
			plog.Errorf("fatal error pattern %q detected during streaming exec of %q", pattern, command)
			output.WriteString(line)
			output.WriteByte('\n')
			return CommandResult{ExitCode: 1, Output: output.String(), AbortedOnError: true}, nil
		}

		if strings.Contains(trimmed, startMarker) {
			collecting = true
			continue
		}

		if exitCode, found := ParseDoneMarker(trimmed, doneMarker); found {
			return CommandResult{Completed: true, ExitCode: exitCode, Output: output.String()}, nil
		}

		if collecting {
			isPrompt := strings.Contains(line, "root@") || strings.Contains(line, "# ")
			isEcho := strings.Contains(line, startMarker) || strings.Contains(line, doneMarker)
			if !isPrompt && !isEcho {
				output.WriteString(line)
				output.WriteByte('\n')
			}
		}
	}

	return CommandResult{ExitCode: -1, Output: output.String(), Stalled: true}, nil
}

// ExecChroot runs command inside a chroot at path using the variant's
// chroot tool (e.g. basechroot), which handles the essential bind
// mounts (/dev, /proc, /sys, /run) itself — each call is independent,
// with no enter/exit state for the caller to track.
func (c *Console) ExecChroot(chrootTool, path, command string, timeout time.Duration) (CommandResult, error) {
	full := fmt.Sprintf("%s %s /bin/bash -c %s",
		chrootTool, shellquote.Join(path), shellquote.Join(command))
	return c.Exec(full, timeout)
}

// ExecChrootOK runs command in a chroot and returns an error unless it
// completes with exit code 0.
func (c *Console) ExecChrootOK(chrootTool, path, command string, timeout time.Duration) (string, error) {
	result, err := c.ExecChroot(chrootTool, path, command, timeout)
	if err != nil {
		return "", err
	}
	if !result.Success() {
		return "", errors.Errorf("chroot command failed (exit %d): %s\noutput: %s",
			result.ExitCode, command, result.Output)
	}
	return result.Output, nil
}

// WriteFile writes content to path on the guest via a printf one-liner
// rather than a heredoc, which does not survive serial-console
// transmission reliably. The escape order matters: backslashes first,
// then the characters that backslash escaping itself introduces or
// that printf treats specially. "set +H" disables bash history
// expansion first, since a "!" in content — notably a "#!" shebang —
// would otherwise be expanded by the interactive shell before printf
// ever sees it.
func (c *Console) WriteFile(path, content string, timeout time.Duration) error {
	escaped := content
	escaped = strings.ReplaceAll(escaped, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "$", `\$`)
	escaped = strings.ReplaceAll(escaped, "`", "\\`")
	escaped = strings.ReplaceAll(escaped, "%", "%%")
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)

	cmd := fmt.Sprintf(`set +H; printf "%s" > %s`, escaped, path)
	_, err := c.ExecOK(cmd, timeout)
	return err
}
