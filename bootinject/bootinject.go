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

// Package bootinject resolves the boot-injection payload: a small
// file handed to the guest through QEMU's fw_cfg channel before the
// firmware boots, configured via environment variables rather than a
// command-line flag so it composes cleanly with CI job definitions.
package bootinject

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// FwCfgName is the fw_cfg entry name the initramfs looks for.
const FwCfgName = "opt/vmtest/boot-injection"

const (
	envInjectFile = "VMTEST_BOOT_INJECTION_FILE"
	envInjectKV   = "VMTEST_BOOT_INJECTION_KV"
)

// Injection names a payload file ready to hand to
// qemu.QemuBuilder.FwCfg.
type Injection struct {
	FwCfgName   string
	PayloadFile string
}

// FromEnv resolves a boot injection from the environment. VMTEST_BOOT_INJECTION_FILE
// names a literal payload file directly; VMTEST_BOOT_INJECTION_KV is a
// KEY=VALUE[,KEY=VALUE...] CSV string materialized into a temp file as
// KEY=VALUE lines. If both are set, _FILE wins. Returns (nil, nil) if
// neither is set.
func FromEnv() (*Injection, error) {
	if path := os.Getenv(envInjectFile); path != "" {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			return nil, errors.Errorf("%s points to non-file %q", envInjectFile, path)
		}
		return &Injection{FwCfgName: FwCfgName, PayloadFile: path}, nil
	}

	raw := strings.TrimSpace(os.Getenv(envInjectKV))
	if raw == "" {
		return nil, nil
	}

	entries, err := parseKVCSV(raw)
	if err != nil {
		return nil, err
	}
	payload, err := writeEnvPayloadFile(entries)
	if err != nil {
		return nil, err
	}
	return &Injection{FwCfgName: FwCfgName, PayloadFile: payload}, nil
}

// kv is one key/value pair, kept ordered (unlike a map) so the
// materialized payload file's line order matches the CSV the caller
// wrote.
type kv struct {
	Key, Value string
}

func parseKVCSV(raw string) ([]kv, error) {
	var out []kv
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, errors.Errorf("invalid key/value %q, expected KEY=VALUE", part)
		}
		key := strings.TrimSpace(k)
		if key == "" {
			return nil, errors.Errorf("empty key in %q", part)
		}
		out = append(out, kv{Key: key, Value: v})
	}
	if len(out) == 0 {
		return nil, errors.Errorf("no key/value pairs found in %s", envInjectKV)
	}
	return out, nil
}

func writeEnvPayloadFile(entries []kv) (string, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("vmtest-boot-injection-%d.env", os.Getpid()))
	if err := writeEnvPayloadPath(path, entries); err != nil {
		return "", err
	}
	return path, nil
}

func writeEnvPayloadPath(path string, entries []kv) error {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s=%s\n", e.Key, e.Value)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return errors.Wrapf(err, "writing boot injection payload %q", path)
	}
	return nil
}
