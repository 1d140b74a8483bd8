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

package preflight

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	vexec "github.com/ridgeline-labs/vmtest/system/exec"
)

// listCpioContents lists the paths stored in a cpio archive at path,
// transparently gunzipping first if the file is gzip-compressed. This
// shells out to the system `cpio` binary — no Go library in this
// repo's dependency set parses the cpio format, and reimplementing a
// binary archive format parser by hand would be exactly the kind of
// hand-rolled stdlib substitute this project avoids; `cpio` is a
// universally available content-listing tool, same role as the
// original's external checker library.
func listCpioContents(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	var reader io.Reader = f
	if isGzip(f) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "opening gzip stream in %s", path)
		}
		defer gz.Close()
		reader = gz
	}

	cmd := vexec.Command("cpio", "-t", "--quiet")
	cmd.Stdin = reader

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "cpio -t on %s failed: %s", path, stderr.String())
	}

	var out []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, strings.TrimPrefix(line, "./"))
		}
	}
	return out, nil
}

// listISOContents lists the paths stored in an ISO9660 image at path
// by shelling out to `isoinfo` (from genisoimage/cdrtools), the same
// "adaptor over an external checker" pattern as listCpioContents.
func listISOContents(path string) ([]string, error) {
	cmd := vexec.Command("isoinfo", "-f", "-i", path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "isoinfo -f on %s failed: %s", path, stderr.String())
	}

	var out []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, strings.TrimPrefix(line, "/"))
	}
	return out, nil
}

// isGzip sniffs the gzip magic number at the start of f without
// disturbing the caller's read position.
func isGzip(f *os.File) bool {
	var magic [2]byte
	n, err := f.ReadAt(magic[:], 0)
	if err != nil || n < 2 {
		return false
	}
	return magic[0] == 0x1f && magic[1] == 0x8b
}
