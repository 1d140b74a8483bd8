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

package qemu

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// strayProcessPatterns names the disk/ISO/socket filename fragments that
// identify a hypervisor process left over from a prior, presumably
// crashed, test run. These are substrings matched against the full
// command line of running qemu-system processes, never exact paths,
// because the per-session temp directory component varies.
var strayProcessPatterns = []string{
	"vmtest-install.qcow2",
	"vmtest-boot.qcow2",
	"vmtest.iso",
	"vmtest-qmp.sock",
}

// KillStragglers best-effort-kills any qemu-system-x86_64 process whose
// command line matches a known stray-resource pattern. It never returns
// an error: a failed pkill just means there was nothing to kill, or we
// lack permission, and either way the caller should proceed to try
// acquiring the lock.
func KillStragglers() {
	for _, pattern := range strayProcessPatterns {
		cmd := exec.Command("pkill", "-9", "-f", fmt.Sprintf("qemu-system-x86_64.*%s", pattern))
		_ = cmd.Run()
	}
	// Give the kernel a moment to reap and release any firmware-vars
	// or control-socket files the dead processes held open.
	time.Sleep(100 * time.Millisecond)
}

// TestLock is an OS-level exclusive lock guaranteeing only one test
// session runs at a time. Two concurrent hypervisors racing for the
// same firmware-vars file or control socket would silently corrupt
// each other; this lock centralizes that exclusion.
type TestLock struct {
	file *os.File
}

// DefaultLockPath is the well-known lock file location used when the
// caller does not override it.
const DefaultLockPath = "/tmp/vmtest.lock"

// AcquireTestLock takes an exclusive, non-blocking flock(2) on path,
// creating it if necessary. Holding the returned TestLock is a
// precondition for spawning any VM.
func AcquireTestLock(path string) (*TestLock, error) {
	if path == "" {
		path = DefaultLockPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating lock directory for %s", path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening lock file %s", path)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, errors.New("another test run is active")
	}

	return &TestLock{file: f}, nil
}

// Release drops the lock. It is safe to call multiple times.
func (l *TestLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	cerr := l.file.Close()
	l.file = nil
	if err != nil {
		return errors.Wrap(err, "releasing test lock")
	}
	return cerr
}
