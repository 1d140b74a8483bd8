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
	"strings"
	"testing"
)

func expectPanic(t *testing.T, wantSubstring string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic, got none")
		}
		msg, ok := r.(string)
		if !ok {
			t.Fatalf("expected a string panic value, got %T: %v", r, r)
		}
		if !strings.Contains(msg, wantSubstring) {
			t.Fatalf("panic message %q missing expected substring %q", msg, wantSubstring)
		}
	}()
	fn()
}

func TestBuildPipedPanicsWhenFirmwareAndKernelBothSet(t *testing.T) {
	b := NewQemuBuilder()
	b.FirmwareCode = "/usr/share/OVMF/OVMF_CODE.fd"
	b.KernelPath = "/boot/vmlinuz"

	expectPanic(t, "ARCHITECTURAL CHEAT BLOCKED", func() {
		_, _ = b.BuildPiped()
	})
}

func TestBuildControlSocketPanicsWhenFirmwareAndKernelBothSet(t *testing.T) {
	b := NewQemuBuilder()
	b.FirmwareCode = "/usr/share/OVMF/OVMF_CODE.fd"
	b.KernelPath = "/boot/vmlinuz"

	expectPanic(t, "ARCHITECTURAL CHEAT BLOCKED", func() {
		_, _ = b.BuildControlSocket()
	})
}

func TestBuildPipedSucceedsWithOnlyFirmwareSet(t *testing.T) {
	b := NewQemuBuilder()
	b.FirmwareCode = "/usr/share/OVMF/OVMF_CODE.fd"
	b.ISOPath = "/tmp/install.iso"
	b.BootOrder = "dc"

	cmd, err := b.BuildPiped()
	if err != nil {
		t.Fatalf("BuildPiped: %v", err)
	}
	if cmd == nil {
		t.Fatal("expected a non-nil command")
	}
}

func TestBuildDirectBootDebugPanicsWhenFirmwareCodeSet(t *testing.T) {
	b := NewQemuBuilder()
	b.FirmwareCode = "/usr/share/OVMF/OVMF_CODE.fd"
	b.KernelPath = "/boot/vmlinuz"

	expectPanic(t, "cannot be used with FirmwareCode set", func() {
		_, _ = b.BuildDirectBootDebug()
	})
}
