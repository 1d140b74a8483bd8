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

// Package serial implements the guest serial console protocol: a
// framed request/response layer over an unstructured, lossy,
// asynchronously interleaved byte stream. It owns the background
// reader, ANSI stripping, marker framing, boot waiting, command
// execution, and the login/auth state machine.
package serial

import (
	"bufio"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/coreos/pkg/capnslog"
	"github.com/pkg/errors"

	vexec "github.com/ridgeline-labs/vmtest/system/exec"
)

var plog = capnslog.NewPackageLogger("github.com/ridgeline-labs/vmtest", "serial")

// outputRingSize bounds the diagnostic tail kept for error messages;
// spec.md's failure-context excerpts use its most recent 20-30 lines.
const outputRingSize = 500

// lineChannelCapacity bounds the reader-to-driver channel. Per the
// Design Notes, a bounded channel with acceptable back-pressure is
// used in place of a literal unbounded channel: long silences are
// caught by stall timeouts regardless, so a slow consumer merely
// delays delivery rather than losing data.
const lineChannelCapacity = 4096

// CommandResult is the executor's result type: a product of four
// booleans plus captured output and exit code. success() is the
// explicit conjunction callers must branch on, rather than a sum type,
// so that "why did this fail" is always inspectable independently of
// "did it fail".
type CommandResult struct {
	Completed      bool
	ExitCode       int
	Output         string
	AbortedOnError bool
	Stalled        bool
}

// Success reports whether the command completed normally with exit
// code 0 and was neither aborted on a fatal pattern nor stalled.
func (r CommandResult) Success() bool {
	return r.Completed && r.ExitCode == 0 && !r.AbortedOnError && !r.Stalled
}

// SyncConfig tunes the shell-sync protocol's timing. Defaults mirror
// values proven out against real serial consoles: short enough that
// tests stay fast, long enough that a busy shell doesn't false-fail.
type SyncConfig struct {
	DrainWait     time.Duration
	SyncTimeout   time.Duration
	Sync2Timeout  time.Duration
	PostSyncDrain time.Duration
}

// DefaultSyncConfig is used by Exec unless a caller overrides it.
var DefaultSyncConfig = SyncConfig{
	DrainWait:     200 * time.Millisecond,
	SyncTimeout:   5 * time.Second,
	Sync2Timeout:  3 * time.Second,
	PostSyncDrain: 100 * time.Millisecond,
}

// Console owns one VM's serial I/O: the child's stdin/stdout, a
// background reader goroutine, and the scratch state (output ring,
// failed-service tracking) the executor and boot waiter need. It is
// single-owner — never shared across goroutines beyond its own reader
// — matching the Design Notes' "local buffer, not a process-wide
// global" guidance.
type Console struct {
	cmd    *vexec.ExecCmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	lines chan string

	mu             sync.Mutex
	ring           []string
	failedServices []string

	closeOnce sync.Once
}

// NewConsole wraps cmd (already started, with piped stdin/stdout) in a
// Console and starts the background reader goroutine.
func NewConsole(cmd *vexec.ExecCmd, stdin io.WriteCloser, stdout io.ReadCloser) *Console {
	c := &Console{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		lines:  make(chan string, lineChannelCapacity),
	}
	go c.readLoop()
	return c
}

func (c *Console) readLoop() {
	scanner := bufio.NewScanner(c.stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !utf8.ValidString(line) {
			line = strings.ToValidUTF8(line, "�")
		}
		c.pushRing(line)
		c.lines <- line
	}
	close(c.lines)
}

func (c *Console) pushRing(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ring = append(c.ring, line)
	if len(c.ring) > outputRingSize {
		c.ring = c.ring[len(c.ring)-outputRingSize:]
	}
}

// OutputTail returns the most recent n lines seen on the console, for
// use in failure diagnostics.
func (c *Console) OutputTail(n int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > len(c.ring) {
		n = len(c.ring)
	}
	out := make([]string, n)
	copy(out, c.ring[len(c.ring)-n:])
	return out
}

// FailedServices returns service-failure lines observed during an
// installed-boot wait. It is never treated as fatal by the boot
// waiter; callers surface it as diagnostic context.
func (c *Console) FailedServices() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.failedServices))
	copy(out, c.failedServices)
	return out
}

func (c *Console) recordFailedService(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedServices = append(c.failedServices, line)
}

func (c *Console) clearFailedServices() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedServices = nil
}

// recvLine waits up to timeout for the next line. ok is false on
// timeout or if the reader goroutine has exited (child closed stdout).
func (c *Console) recvLine(timeout time.Duration) (line string, ok bool, disconnected bool) {
	select {
	case l, open := <-c.lines:
		if !open {
			return "", false, true
		}
		return l, true, false
	case <-time.After(timeout):
		return "", false, false
	}
}

// StreamLines writes every line the guest emits to w, one per line,
// until stop is closed or the guest's stdout closes. It is the
// read-side half of an interactive passthrough session; the
// write-side half is WriteRaw.
func (c *Console) StreamLines(w io.Writer, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case l, open := <-c.lines:
			if !open {
				return
			}
			io.WriteString(w, l+"\n")
		}
	}
}

// writeLine sends s followed by a newline to the guest and flushes
// immediately, matching the "flushed after every command" contract.
func (c *Console) writeLine(s string) error {
	if _, err := io.WriteString(c.stdin, s+"\n"); err != nil {
		return errors.Wrap(err, "writing to console stdin")
	}
	if f, ok := c.stdin.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
	return nil
}

// WriteRaw sends p to the guest verbatim, with no newline framing and
// no flush guarantee beyond the underlying pipe's own buffering. It
// exists for interactive passthrough sessions, where the caller is a
// human typing at a real terminal rather than a command needing
// marker framing; step/executor code must use Exec, never this.
func (c *Console) WriteRaw(p []byte) (int, error) {
	return c.stdin.Write(p)
}

// Close kills the child process (safe if already dead) and releases
// the stdin handle. It is idempotent and is called on every exit path
// of a stage execution: success, failure, or panic-recovery.
func (c *Console) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.stdin.Close()
		if c.cmd != nil {
			err = c.cmd.Kill()
		}
	})
	return err
}

// drainOutput is the two-pass drain used before synchronization:
// drain everything currently queued, sleep briefly to catch anything
// in flight, then drain again.
func (c *Console) drainOutput(wait time.Duration) []string {
	var drained []string
	for {
		select {
		case l, open := <-c.lines:
			if !open {
				return drained
			}
			drained = append(drained, l)
		default:
			goto settled
		}
	}
settled:
	time.Sleep(wait)
	for {
		select {
		case l, open := <-c.lines:
			if !open {
				return drained
			}
			drained = append(drained, l)
		default:
			return drained
		}
	}
}

// SyncShell proves the shell has processed everything sent so far by
// sending a unique marker and waiting for its echo, falling back to a
// second marker with more aggressive draining if the first attempt
// times out. This prevents output from one command contaminating the
// next on an asynchronous, unbounded-latency serial link. The secondary
// attempt returns nil after a final drain even when its marker never
// arrives; only a disconnect during the primary attempt is an error.
func (c *Console) SyncShell(cfg SyncConfig) error {
	c.drainOutput(cfg.DrainWait)

	marker := GenerateSyncMarker()
	if err := c.writeLine("echo '" + marker + "'"); err != nil {
		return err
	}

	deadline := time.Now().Add(cfg.SyncTimeout)
	for time.Now().Before(deadline) {
		line, ok, disconnected := c.recvLine(100 * time.Millisecond)
		if disconnected {
			return errors.New("console disconnected during sync")
		}
		if !ok {
			continue
		}
		if strings.Contains(StripANSI(line), marker) {
			c.drainOutput(cfg.PostSyncDrain)
			return nil
		}
	}

	plog.Warningf("primary shell sync timed out, attempting secondary sync")
	return c.syncShellSecondary(marker, cfg)
}

func (c *Console) syncShellSecondary(primary string, cfg SyncConfig) error {
	c.drainOutput(500 * time.Millisecond)

	marker := GenerateSecondarySyncMarker(primary)
	_ = c.writeLine("echo '" + marker + "'")

	deadline := time.Now().Add(cfg.Sync2Timeout)
	for time.Now().Before(deadline) {
		line, ok, disconnected := c.recvLine(100 * time.Millisecond)
		if disconnected {
			break
		}
		if ok && strings.Contains(StripANSI(line), marker) {
			break
		}
	}

	c.drainOutput(300 * time.Millisecond)
	return nil
}
