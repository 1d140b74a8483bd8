// Copyright 2020 Red Hat, Inc.
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

package qmpclient

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
)

// CaptureSequence takes a screenshot under baseDir named
// "<prefix>_NNNN.ppm" and returns the path written, for step-by-step
// visual debugging sequences.
func (c *Client) CaptureSequence(baseDir, prefix string, index int) (string, error) {
	filename := filepath.Join(baseDir, fmt.Sprintf("%s_%04d.ppm", prefix, index))
	if err := c.Screendump(filename); err != nil {
		return "", errors.Wrapf(err, "capturing screenshot %s", filename)
	}
	return filename, nil
}

// Smoke drives a minimal visual smoke test: type a line of text ended
// with enter, then capture one screenshot right away, with no settle
// delay in between. It proves the QMP
// channel can inject input and observe output, nothing more — command
// exit codes and textual verification belong to serial.Console, not
// here.
func Smoke(c *Client, outputDir, text string) (screenshotPath string, err error) {
	if err := c.SendText(text); err != nil {
		return "", errors.Wrap(err, "sending smoke-test text")
	}
	if err := c.SendKey("ret"); err != nil {
		return "", errors.Wrap(err, "sending smoke-test enter")
	}

	path, err := c.CaptureSequence(outputDir, "smoke", 0)
	if err != nil {
		return "", err
	}
	return path, nil
}
