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

package distro

import "github.com/pkg/errors"

// AvailableVariants lists every short id For returns a profile for,
// in the stable order used for CLI help text.
var AvailableVariants = []string{"ridgeline", "cobalt", "driftwood", "ember"}

var coreInstallTools = []string{"basestrap", "basefstab", "basechroot", "sfdisk", "mkfs.ext4"}

var dailyDriverTools = []string{"ip", "ping", "curl", "lspci", "lsusb", "vi", "less", "grep", "find"}

var installedTools = []string{"sudo", "ip", "ssh", "mount", "umount", "dmesg"}

func ridgeline() *Profile {
	p := newSystemdBase()
	p.DisplayName = "Ridgeline"
	p.ShortID = "ridgeline"
	p.Hostname = "ridgeline"
	p.DefaultUsername = "ridgeline"
	p.DefaultPassword = "ridgeline"
	p.LoginPrompt = "ridgeline login:"
	p.InstalledBootSuccessPatterns = []string{"___SHELL_READY___", "ridgeline login:", "multi-user.target"}
	p.LiveTools = concat(coreInstallTools, dailyDriverTools)
	p.InstalledTools = append([]string(nil), installedTools...)
	return p
}

// cobalt shares Ridgeline's systemd base almost entirely; it overrides
// only identity and credentials, matching the spec's "variant-specific
// items override the base" composition rule.
func cobalt() *Profile {
	p := newSystemdBase()
	p.DisplayName = "Cobalt"
	p.ShortID = "cobalt"
	p.Hostname = "cobalt"
	p.DefaultUsername = "cobalt"
	p.DefaultPassword = "cobalt"
	p.LoginPrompt = "cobalt login:"
	p.InstalledBootSuccessPatterns = []string{"___SHELL_READY___", "cobalt login:", "multi-user.target"}
	p.LiveTools = concat(coreInstallTools, dailyDriverTools)
	p.InstalledTools = append([]string(nil), installedTools...)
	return p
}

func driftwood() *Profile {
	p := newOpenRCBase()
	p.DisplayName = "Driftwood"
	p.ShortID = "driftwood"
	p.Hostname = "driftwood"
	p.DefaultUsername = "driftwood"
	p.DefaultPassword = "driftwood"
	p.LoginPrompt = "driftwood login:"
	p.InstalledBootSuccessPatterns = []string{"___SHELL_READY___", "driftwood login:", "default_reached"}
	p.LiveTools = concat(coreInstallTools, dailyDriverTools)
	p.InstalledTools = append([]string(nil), installedTools...)
	return p
}

func ember() *Profile {
	p := newOpenRCBase()
	p.DisplayName = "Ember"
	p.ShortID = "ember"
	p.Hostname = "ember"
	p.DefaultUsername = "ember"
	p.DefaultPassword = "ember"
	p.LoginPrompt = "ember login:"
	p.InstalledBootSuccessPatterns = []string{"___SHELL_READY___", "ember login:", "default_reached"}
	p.LiveTools = concat(coreInstallTools, dailyDriverTools)
	p.InstalledTools = append([]string(nil), installedTools...)
	return p
}

func concat(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

// For looks up a Profile by short id from the closed set of supported
// variants. The returned profile is freshly built per call so callers
// may safely hold and mutate it without affecting other callers
// (mutation is not expected, but the profile is not otherwise made
// immutable by the type system).
func For(shortID string) (*Profile, error) {
	switch shortID {
	case "ridgeline":
		return ridgeline(), nil
	case "cobalt":
		return cobalt(), nil
	case "driftwood":
		return driftwood(), nil
	case "ember":
		return ember(), nil
	default:
		return nil, errors.Errorf("unknown OS variant %q (available: %v)", shortID, AvailableVariants)
	}
}
