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
	"bufio"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ridgeline-labs/vmtest/serial"
)

// fakeGuest drives a *serial.Console against in-process pipes, letting
// a test answer each command the step under test sends without a real
// QEMU session — mirroring the serial package's own test approach.
type fakeGuest struct {
	console *serial.Console
	sent    *bufio.Scanner
	in      io.WriteCloser
}

func newFakeGuest(t *testing.T) *fakeGuest {
	t.Helper()
	outR, outW := io.Pipe()
	inR, inW := io.Pipe()
	c := serial.NewConsole(nil, inW, outR)
	t.Cleanup(func() { _ = outW.Close() })
	return &fakeGuest{console: c, sent: bufio.NewScanner(inR), in: outW}
}

func (f *fakeGuest) send(lines ...string) {
	for _, l := range lines {
		io.WriteString(f.in, l+"\n")
	}
}

func (f *fakeGuest) nextSent(t *testing.T, timeout time.Duration) string {
	t.Helper()
	done := make(chan struct{})
	var line string
	var ok bool
	go func() {
		ok = f.sent.Scan()
		if ok {
			line = f.sent.Text()
		}
		close(done)
	}()
	select {
	case <-done:
		if !ok {
			t.Fatal("expected a command written to the guest, got none")
		}
		return line
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a command written to the guest")
		return ""
	}
}

// respondToSyncThenRun answers the shell-sync probe a Console.Exec call
// issues before its real command, then reads and answers the framed
// command itself with the given output and exit code.
func (f *fakeGuest) respondToSyncThenRun(t *testing.T, output string, exitCode int) {
	t.Helper()
	syncProbe := f.nextSent(t, 3*time.Second)
	if strings.HasPrefix(syncProbe, "echo '") && strings.HasSuffix(syncProbe, "'") {
		marker := strings.TrimSuffix(strings.TrimPrefix(syncProbe, "echo '"), "'")
		f.send(marker)
	}

	framed := f.nextSent(t, 3*time.Second)
	start, done := extractFramingMarkers(t, framed)
	lines := []string{start}
	if output != "" {
		lines = append(lines, output)
	}
	lines = append(lines, done+" "+strconv.Itoa(exitCode))
	f.send(lines...)
}

func extractFramingMarkers(t *testing.T, fullCmd string) (start, done string) {
	t.Helper()
	parts := strings.SplitN(fullCmd, ";", 2)
	if len(parts) < 1 {
		t.Fatalf("could not parse framed command %q", fullCmd)
	}
	echoStart := strings.TrimSpace(parts[0])
	start = strings.TrimSuffix(strings.TrimPrefix(echoStart, "echo '"), "'")

	idx := strings.LastIndex(fullCmd, "echo '")
	rest := fullCmd[idx+len("echo '"):]
	done = rest[:strings.Index(rest, "'")]
	return start, done
}

func TestVerifyUefiPassesWhenEfivarsPresent(t *testing.T) {
	fg := newFakeGuest(t)
	resultc := make(chan *Result, 1)
	errc := make(chan error, 1)
	go func() {
		r, err := VerifyUefi{}.Execute(fg.console, nil)
		resultc <- r
		errc <- err
	}()

	fg.respondToSyncThenRun(t, "UEFI_OK", 0)

	r := <-resultc
	if err := <-errc; err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !r.Passed {
		t.Fatalf("expected VerifyUefi to pass, got %+v", r.Checks)
	}
}

func TestVerifyUefiFailsWhenEfivarsAbsent(t *testing.T) {
	fg := newFakeGuest(t)
	resultc := make(chan *Result, 1)
	go func() {
		r, _ := VerifyUefi{}.Execute(fg.console, nil)
		resultc <- r
	}()

	fg.respondToSyncThenRun(t, "", 0)

	r := <-resultc
	if r.Passed {
		t.Fatal("expected VerifyUefi to fail when efivars check produces no UEFI_OK marker")
	}
}

func TestSyncClockFailsOnImplausibleYear(t *testing.T) {
	fg := newFakeGuest(t)
	resultc := make(chan *Result, 1)
	go func() {
		r, _ := SyncClock{}.Execute(fg.console, nil)
		resultc <- r
	}()

	fg.respondToSyncThenRun(t, "1970", 0)

	r := <-resultc
	if r.Passed {
		t.Fatal("expected SyncClock to fail on an implausible year")
	}
}

func TestSyncClockPassesOnPlausibleYear(t *testing.T) {
	fg := newFakeGuest(t)
	resultc := make(chan *Result, 1)
	go func() {
		r, _ := SyncClock{}.Execute(fg.console, nil)
		resultc <- r
	}()

	fg.respondToSyncThenRun(t, "2026", 0)

	r := <-resultc
	if !r.Passed {
		t.Fatalf("expected SyncClock to pass on a plausible year, got %+v", r.Checks)
	}
}

func TestIdentifyDiskFailsWhenDiskMissing(t *testing.T) {
	fg := newFakeGuest(t)
	resultc := make(chan *Result, 1)
	go func() {
		r, _ := IdentifyDisk{}.Execute(fg.console, nil)
		resultc <- r
	}()

	fg.respondToSyncThenRun(t, "", 0)

	r := <-resultc
	if r.Passed {
		t.Fatal("expected IdentifyDisk to fail when lsblk shows no vda disk")
	}
}

func TestIdentifyDiskPassesWhenDiskPresent(t *testing.T) {
	fg := newFakeGuest(t)
	resultc := make(chan *Result, 1)
	go func() {
		r, _ := IdentifyDisk{}.Execute(fg.console, nil)
		resultc <- r
	}()

	fg.respondToSyncThenRun(t, "vda disk", 0)

	r := <-resultc
	if !r.Passed {
		t.Fatalf("expected IdentifyDisk to pass when vda is present, got %+v", r.Checks)
	}
}
