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

package bootinject

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseKVCSV(t *testing.T) {
	pairs, err := parseKVCSV("A=1,B=two words")
	if err != nil {
		t.Fatalf("parseKVCSV: %v", err)
	}
	if len(pairs) != 2 || pairs[0] != (kv{"A", "1"}) || pairs[1] != (kv{"B", "two words"}) {
		t.Fatalf("parseKVCSV = %+v, want [{A 1} {B two words}]", pairs)
	}
}

func TestParseKVCSVRejectsMissingEquals(t *testing.T) {
	if _, err := parseKVCSV("NOTKV"); err == nil {
		t.Fatal("expected an error for an entry with no '='")
	}
}

func TestParseKVCSVRejectsEmpty(t *testing.T) {
	if _, err := parseKVCSV("   "); err == nil {
		t.Fatal("expected an error for an empty CSV string")
	}
}

func TestFromEnvFilePrecedence(t *testing.T) {
	dir := t.TempDir()
	payload := filepath.Join(dir, "payload.env")
	if err := os.WriteFile(payload, []byte("X=1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("VMTEST_BOOT_INJECTION_FILE", payload)
	t.Setenv("VMTEST_BOOT_INJECTION_KV", "Y=2")

	inj, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if inj == nil || inj.PayloadFile != payload {
		t.Fatalf("FromEnv() = %+v, want the literal file to win over KV", inj)
	}
}

func TestFromEnvKVMaterializesFile(t *testing.T) {
	t.Setenv("VMTEST_BOOT_INJECTION_FILE", "")
	t.Setenv("VMTEST_BOOT_INJECTION_KV", "FOO=bar,BAZ=qux")

	inj, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if inj == nil {
		t.Fatal("expected a non-nil injection from a KV spec")
	}
	defer os.Remove(inj.PayloadFile)

	data, err := os.ReadFile(inj.PayloadFile)
	if err != nil {
		t.Fatalf("reading materialized payload: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "FOO=bar\n") || !strings.Contains(content, "BAZ=qux\n") {
		t.Fatalf("materialized payload = %q, want both KEY=VALUE lines", content)
	}
	if inj.FwCfgName != FwCfgName {
		t.Errorf("FwCfgName = %q, want %q", inj.FwCfgName, FwCfgName)
	}
}

func TestFromEnvNeitherSetReturnsNil(t *testing.T) {
	t.Setenv("VMTEST_BOOT_INJECTION_FILE", "")
	t.Setenv("VMTEST_BOOT_INJECTION_KV", "")

	inj, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if inj != nil {
		t.Fatalf("FromEnv() = %+v, want nil when neither env var is set", inj)
	}
}

func TestFromEnvFileMissingErrors(t *testing.T) {
	t.Setenv("VMTEST_BOOT_INJECTION_FILE", filepath.Join(t.TempDir(), "does-not-exist"))
	t.Setenv("VMTEST_BOOT_INJECTION_KV", "")

	if _, err := FromEnv(); err == nil {
		t.Fatal("expected an error when VMTEST_BOOT_INJECTION_FILE points to a missing file")
	}
}
