// SPDX-License-Identifier: AGPL-3.0-or-later
package gate

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ErrResetUnauthorized is returned when a kill-switch reset carries a wrong
// or missing authorization code.
var ErrResetUnauthorized = errors.New("kill switch reset not authorized")

// KillSwitch is a shared safety latch. Once tripped, every validator battery
// reports approved=false until an authorized reset, across all plans using
// the same instance. A single KillSwitch is intended to be injected into
// every Gate in the process.
type KillSwitch struct {
	mu        sync.Mutex
	active    bool
	reason    string
	resetSum  [sha256.Size]byte
	resetable bool
	statePath string
	logger    *slog.Logger
}

// NewKillSwitch builds a latch whose reset requires the given authorization
// code. An empty code disables reset entirely.
func NewKillSwitch(resetCode string) *KillSwitch {
	k := &KillSwitch{logger: slog.Default()}
	if resetCode != "" {
		k.resetSum = sha256.Sum256([]byte(resetCode))
		k.resetable = true
	}
	return k
}

// NewPersistentKillSwitch builds a latch whose state survives process
// restarts via a small state file. A missing file means the switch is
// inactive.
func NewPersistentKillSwitch(statePath, resetCode string) (*KillSwitch, error) {
	k := NewKillSwitch(resetCode)
	k.statePath = statePath
	st, err := readSwitchState(statePath)
	if err != nil {
		return nil, err
	}
	k.active = st.Active
	k.reason = st.Reason
	return k, nil
}

// Trigger latches the switch. Idempotent; the first reason is kept.
func (k *KillSwitch) Trigger(reason string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.active {
		return
	}
	k.active = true
	k.reason = reason
	k.persistLocked()
	k.logger.Error("kill switch triggered", slog.String("reason", reason))
}

// Reset clears the latch when the authorization code matches. Codes are
// compared in constant time over their digests.
func (k *KillSwitch) Reset(authorizationCode string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.resetable {
		return ErrResetUnauthorized
	}
	sum := sha256.Sum256([]byte(authorizationCode))
	if subtle.ConstantTimeCompare(sum[:], k.resetSum[:]) != 1 {
		return ErrResetUnauthorized
	}
	k.active = false
	k.reason = ""
	k.persistLocked()
	k.logger.Info("kill switch reset")
	return nil
}

// State returns whether the switch is latched and the trigger reason.
func (k *KillSwitch) State() (active bool, reason string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.active, k.reason
}

type switchState struct {
	Active bool   `json:"active"`
	Reason string `json:"reason,omitempty"`
}

func readSwitchState(path string) (switchState, error) {
	var st switchState
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read kill switch state: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("decode kill switch state: %w", err)
	}
	return st, nil
}

// persistLocked writes the current state when a state file is configured.
// Persistence failures are logged, never fatal: the in-memory latch remains
// authoritative for this process.
func (k *KillSwitch) persistLocked() {
	if k.statePath == "" {
		return
	}
	data, err := json.Marshal(switchState{Active: k.active, Reason: k.reason})
	if err != nil {
		k.logger.Error("encode kill switch state", slog.String("error", err.Error()))
		return
	}
	if err := os.MkdirAll(filepath.Dir(k.statePath), 0o700); err != nil {
		k.logger.Error("persist kill switch state", slog.String("error", err.Error()))
		return
	}
	if err := os.WriteFile(k.statePath, data, 0o600); err != nil {
		k.logger.Error("persist kill switch state", slog.String("error", err.Error()))
	}
}
