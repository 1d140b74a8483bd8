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

// Package qmpclient implements the optional Machine-Protocol Client: a
// JSON-line control channel to a running QEMU instance for keystroke
// injection and screenshot capture. It is for visual smoke tests only
// — it has no exit-code capture and no output visibility, so it must
// never be used for step-library verification; use serial.Console for
// that.
package qmpclient

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/coreos/pkg/capnslog"
	"github.com/digitalocean/go-qemu/qmp"
	"github.com/pkg/errors"

	"github.com/ridgeline-labs/vmtest/util"
)

var plog = capnslog.NewPackageLogger("github.com/ridgeline-labs/vmtest", "qmpclient")

// Client wraps a QMP socket monitor with the layered keystroke/mouse/
// screenshot helpers described in the Machine-Protocol Client spec.
type Client struct {
	monitor *qmp.SocketMonitor
}

// errorResponse mirrors the shape of a QMP error reply so Run's raw
// JSON can be checked for a set error field before being handed back.
type errorResponse struct {
	Error *struct {
		Class string `json:"class"`
		Desc  string `json:"desc"`
	} `json:"error"`
}

// Dial connects to the QMP control socket under dir (conventionally
// named "qmp.sock" next to the VM's other runtime sockets), performs
// the greeting + capabilities-enable handshake, and returns a ready
// client. Connection is retried since the socket may not exist yet
// immediately after the QEMU process is spawned.
func Dial(dir string) (*Client, error) {
	sockPath := filepath.Join(dir, "qmp.sock")
	var monitor *qmp.SocketMonitor
	if err := util.Retry(10, 1*time.Second, func() error {
		m, err := qmp.NewSocketMonitor("unix", sockPath, 2*time.Second)
		if err != nil {
			return err
		}
		monitor = m
		return nil
	}); err != nil {
		return nil, errors.Wrapf(err, "connecting to QMP socket %s", sockPath)
	}

	if err := monitor.Connect(); err != nil {
		return nil, errors.Wrap(err, "QMP greeting/capabilities handshake failed")
	}

	return &Client{monitor: monitor}, nil
}

// Close disconnects the underlying socket monitor.
func (c *Client) Close() error {
	return c.monitor.Disconnect()
}

// Execute runs one QMP command and returns its "return" value, or an
// error if the response's "error" field was set.
func (c *Client) Execute(command string, arguments map[string]interface{}) (json.RawMessage, error) {
	payload := map[string]interface{}{"execute": command}
	if arguments != nil {
		payload["arguments"] = arguments
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding QMP command %q", command)
	}

	out, err := c.monitor.Run(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "running QMP command %q", command)
	}

	var resp errorResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, errors.Wrapf(err, "decoding QMP response to %q", command)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("QMP command %q failed (%s): %s", command, resp.Error.Class, resp.Error.Desc)
	}

	var envelope struct {
		Return json.RawMessage `json:"return"`
	}
	if err := json.Unmarshal(out, &envelope); err != nil {
		return nil, errors.Wrapf(err, "decoding QMP return value for %q", command)
	}
	return envelope.Return, nil
}

// SendKey presses a single QMP key code (e.g. "a", "ret", "shift").
func (c *Client) SendKey(key string) error {
	return c.SendKeyChord(key)
}

// SendKeyChord presses one or more QMP key codes simultaneously, for
// modifier combinations like ctrl+alt+f2.
func (c *Client) SendKeyChord(keys ...string) error {
	events := make([]map[string]interface{}, len(keys))
	for i, k := range keys {
		events[i] = map[string]interface{}{"type": "qcode", "data": k}
	}
	_, err := c.Execute("send-key", map[string]interface{}{"keys": events})
	return err
}

// keystrokeInterval separates consecutive key presses in SendText so
// the guest's keyboard buffer doesn't drop events sent back-to-back.
const keystrokeInterval = 50 * time.Millisecond

// SendText decomposes a string into individual key+shift sequences
// and sends them with a small inter-keystroke delay.
func (c *Client) SendText(text string) error {
	for _, ch := range text {
		code, needsShift, err := charToQcode(ch)
		if err != nil {
			return err
		}
		if needsShift {
			if err := c.SendKeyChord("shift", code); err != nil {
				return err
			}
		} else {
			if err := c.SendKey(code); err != nil {
				return err
			}
		}
		time.Sleep(keystrokeInterval)
	}
	return nil
}

// Screendump captures the current display to filename in PPM format.
func (c *Client) Screendump(filename string) error {
	_, err := c.Execute("screendump", map[string]interface{}{"filename": filename})
	return err
}

// MouseClick moves the absolute pointer to (x, y) and clicks button
// ("left", "right", or "middle").
func (c *Client) MouseClick(x, y int, button string) error {
	_, err := c.Execute("input-send-event", map[string]interface{}{
		"events": []map[string]interface{}{
			{"type": "abs", "data": map[string]interface{}{"axis": "x", "value": x}},
			{"type": "abs", "data": map[string]interface{}{"axis": "y", "value": y}},
		},
	})
	if err != nil {
		return errors.Wrap(err, "moving mouse")
	}

	_, err = c.Execute("input-send-event", map[string]interface{}{
		"events": []map[string]interface{}{
			{"type": "btn", "data": map[string]interface{}{"button": button, "down": true}},
			{"type": "btn", "data": map[string]interface{}{"button": button, "down": false}},
		},
	})
	return errors.Wrap(err, "clicking mouse")
}

// charToQcode converts a rune into its QMP key code and whether shift
// must be held alongside it.
func charToQcode(ch rune) (code string, needsShift bool, err error) {
	switch {
	case ch >= 'a' && ch <= 'z':
		return string(ch), false, nil
	case ch >= 'A' && ch <= 'Z':
		return string(ch - 'A' + 'a'), true, nil
	case ch >= '0' && ch <= '9':
		return string(ch), false, nil
	}

	switch ch {
	case ' ':
		return "spc", false, nil
	case '\n':
		return "ret", false, nil
	case '\t':
		return "tab", false, nil
	case '!':
		return "1", true, nil
	case '@':
		return "2", true, nil
	case '#':
		return "3", true, nil
	case '$':
		return "4", true, nil
	case '%':
		return "5", true, nil
	case '^':
		return "6", true, nil
	case '&':
		return "7", true, nil
	case '*':
		return "8", true, nil
	case '(':
		return "9", true, nil
	case ')':
		return "0", true, nil
	case '-':
		return "minus", false, nil
	case '_':
		return "minus", true, nil
	case '=':
		return "equal", false, nil
	case '+':
		return "equal", true, nil
	case '[':
		return "bracket_left", false, nil
	case '{':
		return "bracket_left", true, nil
	case ']':
		return "bracket_right", false, nil
	case '}':
		return "bracket_right", true, nil
	case '\\':
		return "backslash", false, nil
	case '|':
		return "backslash", true, nil
	case ';':
		return "semicolon", false, nil
	case ':':
		return "semicolon", true, nil
	case '\'':
		return "apostrophe", false, nil
	case '"':
		return "apostrophe", true, nil
	case ',':
		return "comma", false, nil
	case '<':
		return "comma", true, nil
	case '.':
		return "dot", false, nil
	case '>':
		return "dot", true, nil
	case '/':
		return "slash", false, nil
	case '?':
		return "slash", true, nil
	case '`':
		return "grave_accent", false, nil
	case '~':
		return "grave_accent", true, nil
	}

	return "", false, fmt.Errorf("unsupported character for QMP text input: %q", ch)
}
