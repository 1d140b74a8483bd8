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
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/ridgeline-labs/vmtest/preflight"
)

// escapeByte starts the interactive-mode exit shortcut: Ctrl-] (0x1d)
// followed by 'q', read from raw stdin. QEMU's own "Ctrl-A X" escape
// only works against QEMU's monitor, not a plain piped stdio console,
// so this mode defines its own.
const escapeByte = 0x1d

// Interactive boots a variant to the given stage (1 or 2 — the live
// environment only, matching the original tool's own scope) and hands
// the terminal to the operator for manual inspection once boot
// succeeds. It blocks until the operator exits (Ctrl-] q) or the
// guest's console closes on its own.
func (o *Orchestrator) Interactive(stage int) error {
	if stage < 1 || stage > 2 {
		return errors.Errorf("interactive mode only supports stages 1-2 (live environment), got %d", stage)
	}

	if err := preflight.Require(o.ArtifactDir, o.isoFilename()); err != nil {
		return err
	}

	session, err := SpawnLive(o.isoPath(), o.Profile)
	if err != nil {
		return err
	}
	defer session.Close()

	fmt.Println("booting live ISO...")
	if err := session.Console.WaitForLiveBoot(
		o.Profile.LiveBootSuccessPatterns, o.Profile.BootErrorPatterns, o.stallTimeout(),
	); err != nil {
		return err
	}
	fmt.Println("boot successful — entering interactive shell (Ctrl-], q to exit)")

	return attachStdio(session)
}

func attachStdio(session *Session) error {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, oldState)
		}
	}

	stop := make(chan struct{})
	go session.Console.StreamLines(os.Stdout, stop)
	defer close(stop)

	reader := bufio.NewReader(os.Stdin)
	for {
		b, err := reader.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if b == escapeByte {
			next, err := reader.ReadByte()
			if err == nil && (next == 'q' || next == 'Q') {
				return nil
			}
			continue
		}
		if _, err := session.Console.WriteRaw([]byte{b}); err != nil {
			return errors.Wrap(err, "writing keystroke to guest")
		}
	}
}
