// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pidfile keeps a single vecsync run per data directory.
//
// The guard is an exclusive flock on a file that stays open for the whole
// run. The kernel drops the lock when the holder exits, so a file left
// behind by a crashed run is never mistaken for a live one. The file
// content ("<pid> <unix start time>") is informational only.
package pidfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// ErrAlreadyRunning is matched by errors.Is when another process holds the lock.
var ErrAlreadyRunning = errors.New("another instance is running")

// Info describes the lock holder. PID is 0 when the holder has not
// written its details yet.
type Info struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// HeldError reports that the lock at Path is held.
type HeldError struct {
	Path string
	Info Info
}

func (e *HeldError) Error() string {
	if e.Info.PID == 0 {
		return fmt.Sprintf("%s is held by another process", e.Path)
	}
	return fmt.Sprintf("%s is held by running process %d (since %s)", e.Path, e.Info.PID, e.Info.StartedAt.Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrAlreadyRunning) true.
func (e *HeldError) Is(target error) bool {
	return target == ErrAlreadyRunning
}

// Lock is an acquired PID file. It must be released by the same process.
type Lock struct {
	path string
	info Info
	f    *os.File
}

// Acquire takes the lock at path without blocking. It fails with a
// *HeldError when another process (or another Lock in this process) holds it.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create pid directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open pid file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			held := &HeldError{Path: path}
			if info, rerr := Read(path); rerr == nil && info != nil {
				held.Info = *info
			}
			return nil, held
		}
		return nil, fmt.Errorf("flock: %w", err)
	}

	info := Info{PID: os.Getpid(), StartedAt: time.Now().Truncate(time.Second)}
	if err := writeInfo(f, info); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, err
	}
	return &Lock{path: path, info: info, f: f}, nil
}

func writeInfo(f *os.File, info Info) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate pid file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek pid file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d %d\n", info.PID, info.StartedAt.Unix()); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return f.Sync()
}

// Path returns the PID file path.
func (l *Lock) Path() string { return l.path }

// Info returns what was written to the PID file.
func (l *Lock) Info() Info { return l.info }

// Release clears the PID file and drops the lock. The file itself stays:
// unlinking a locked file lets a waiter lock the old inode while a newcomer
// creates a fresh one.
func (l *Lock) Release() error {
	if l.f == nil {
		return nil
	}
	terr := l.f.Truncate(0)
	uerr := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	cerr := l.f.Close()
	l.f = nil
	if err := errors.Join(terr, uerr, cerr); err != nil {
		return fmt.Errorf("release pid file: %w", err)
	}
	return nil
}

// Holder reports who holds the lock at path, nil when nobody does. It
// never takes the lock for longer than the probe itself.
func Holder(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	err = syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB)
	if err == nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		return nil, nil
	}
	if !errors.Is(err, syscall.EWOULDBLOCK) {
		return nil, fmt.Errorf("flock: %w", err)
	}
	info, rerr := Read(path)
	if rerr != nil || info == nil {
		return &Info{}, nil
	}
	return info, nil
}

// Read returns the details recorded at path, nil when the file is missing
// or empty. It says nothing about whether the lock is held; see Holder.
func Read(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, nil
	}

	var pid int
	var ts int64
	if _, err := fmt.Sscanf(content, "%d %d", &pid, &ts); err != nil {
		return nil, fmt.Errorf("parse pid file: %w", err)
	}
	return &Info{PID: pid, StartedAt: time.Unix(ts, 0)}, nil
}
