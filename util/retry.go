// Copyright 2015 CoreOS, Inc.
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

package util

import (
	"fmt"
	"time"

	"github.com/coreos/pkg/capnslog"
)

var plog = capnslog.NewPackageLogger("github.com/ridgeline-labs/vmtest", "util")

// Retry calls f until it has been called attempts times or succeeds,
// sleeping delay between calls.
func Retry(attempts int, delay time.Duration, f func() error) error {
	return RetryConditional(attempts, delay, func(_ error) bool { return true }, f)
}

// RetryConditional is Retry but stops early if shouldRetry returns false
// for the error f produced.
func RetryConditional(attempts int, delay time.Duration, shouldRetry func(err error) bool, f func() error) error {
	var err error

	for i := 0; i < attempts; i++ {
		err = f()
		if err == nil || !shouldRetry(err) {
			break
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}

	return err
}

// RetryUntilTimeout calls f until it succeeds or timeout elapses,
// sleeping delay between attempts.
func RetryUntilTimeout(timeout, delay time.Duration, f func() error) error {
	after := time.After(timeout)
	for {
		select {
		case <-after:
			return fmt.Errorf("time limit exceeded")
		default:
		}
		start := time.Now()
		err := f()
		plog.Debugf("RetryUntilTimeout: f() took %v", time.Since(start))
		if err == nil {
			return nil
		}
		time.Sleep(delay)
	}
}

// WaitUntilReady polls checkFunction until it reports done, an error, or
// timeout elapses.
func WaitUntilReady(timeout, delay time.Duration, checkFunction func() (bool, error)) error {
	after := time.After(timeout)
	for {
		select {
		case <-after:
			return fmt.Errorf("time limit exceeded")
		default:
		}
		start := time.Now()
		done, err := checkFunction()
		plog.Debugf("WaitUntilReady: checkFunction took %v", time.Since(start))
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		time.Sleep(delay)
	}
}
