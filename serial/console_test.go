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
	"bufio"
	"io"
	"strings"
	"testing"
	"time"
)

// fakeGuest wires a Console to an in-process pair of pipes standing in
// for the QEMU child's stdin/stdout: writes the test sends on fromTest
// become lines the Console's reader loop observes, and commands the
// Console writes arrive on the toGuest scanner the test can inspect.
type fakeGuest struct {
	console  *Console
	toGuest  *bufio.Scanner
	fromTest io.WriteCloser
}

func newFakeConsole(t *testing.T) *fakeGuest {
	t.Helper()
	outR, outW := io.Pipe() // Console reads from outR; test writes "guest output" on outW
	inR, inW := io.Pipe()   // Console writes to inW; test reads "guest input" on inR

	c := NewConsole(nil, inW, outR)
	scanner := bufio.NewScanner(inR)

	t.Cleanup(func() {
		_ = outW.Close()
	})

	return &fakeGuest{console: c, toGuest: scanner, fromTest: outW}
}

func (f *fakeGuest) send(lines ...string) {
	for _, l := range lines {
		io.WriteString(f.fromTest, l+"\n")
	}
}

func (f *fakeGuest) closeOutput() {
	f.fromTest.Close()
}

func (f *fakeGuest) nextSent(t *testing.T, timeout time.Duration) string {
	t.Helper()
	done := make(chan struct{})
	var line string
	var ok bool
	go func() {
		ok = f.toGuest.Scan()
		if ok {
			line = f.toGuest.Text()
		}
		close(done)
	}()
	select {
	case <-done:
		if !ok {
			t.Fatalf("expected a line written to the guest, got none")
		}
		return line
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for a line written to the guest")
		return ""
	}
}

func TestConsoleOutputTailBounded(t *testing.T) {
	fg := newFakeConsole(t)
	for i := 0; i < outputRingSize+50; i++ {
		fg.send("line")
	}
	time.Sleep(50 * time.Millisecond)
	tail := fg.console.OutputTail(outputRingSize + 50)
	if len(tail) > outputRingSize {
		t.Fatalf("OutputTail returned %d lines, want at most %d", len(tail), outputRingSize)
	}
}

func TestConsoleFailedServicesRecordAndClear(t *testing.T) {
	fg := newFakeConsole(t)
	fg.console.recordFailedService("foo.service failed")
	fg.console.recordFailedService("bar.service failed")
	if got := fg.console.FailedServices(); len(got) != 2 {
		t.Fatalf("got %d failed services, want 2", len(got))
	}
	fg.console.clearFailedServices()
	if got := fg.console.FailedServices(); len(got) != 0 {
		t.Fatalf("got %d failed services after clear, want 0", len(got))
	}
}

func TestConsoleWriteRawBypassesFraming(t *testing.T) {
	outR, outW := io.Pipe()
	inR, inW := io.Pipe()
	c := NewConsole(nil, inW, outR)
	t.Cleanup(func() { _ = outW.Close() })

	buf := make([]byte, 1)
	done := make(chan struct{})
	var readErr error
	go func() {
		_, readErr = io.ReadFull(inR, buf)
		close(done)
	}()

	if _, err := c.WriteRaw([]byte("x")); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}

	select {
	case <-done:
		if readErr != nil {
			t.Fatalf("reading raw byte: %v", readErr)
		}
		if buf[0] != 'x' {
			t.Fatalf("got byte %q, want %q", buf[0], 'x')
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for raw byte to arrive unframed")
	}
}

func TestConsoleStreamLinesTeesUntilStop(t *testing.T) {
	fg := newFakeConsole(t)
	fg.send("one", "two", "three")

	var out strings.Builder
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		fg.console.StreamLines(&out, stop)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StreamLines did not return after stop was closed")
	}

	got := out.String()
	for _, want := range []string{"one", "two", "three"} {
		if !strings.Contains(got, want) {
			t.Fatalf("streamed output %q missing line %q", got, want)
		}
	}
}

func TestConsoleCloseIsIdempotent(t *testing.T) {
	fg := newFakeConsole(t)
	if err := fg.console.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := fg.console.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestSyncShellSucceedsOnMarkerEcho(t *testing.T) {
	fg := newFakeConsole(t)

	go func() {
		sent := fg.nextSent(t, 2*time.Second)
		if !strings.HasPrefix(sent, "echo '") {
			return
		}
		marker := strings.TrimSuffix(strings.TrimPrefix(sent, "echo '"), "'")
		fg.send(marker)
	}()

	if err := fg.console.SyncShell(SyncConfig{
		DrainWait:     10 * time.Millisecond,
		SyncTimeout:   2 * time.Second,
		Sync2Timeout:  1 * time.Second,
		PostSyncDrain: 10 * time.Millisecond,
	}); err != nil {
		t.Fatalf("SyncShell: %v", err)
	}
}
