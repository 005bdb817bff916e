// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fingerprint collects a one-time, read-only description of
// the host environment. The fingerprint is bound into failure
// artifacts so a halted session's evidence records where it happened;
// it is never used to make decisions.
package fingerprint

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"
)

// sessionEnv lists the environment variables that identify the
// display session. Only presence and value are recorded; nothing is
// interpreted.
var sessionEnv = []string{
	"DISPLAY",
	"WAYLAND_DISPLAY",
	"XDG_SESSION_TYPE",
	"XDG_CURRENT_DESKTOP",
}

var (
	once   sync.Once
	cached map[string]string
)

// Collect returns the host fingerprint. The underlying reads happen
// once per process; every call returns the same map. Callers must not
// mutate it.
func Collect() map[string]string {
	once.Do(func() {
		cached = collect()
	})
	return cached
}

func collect() map[string]string {
	fp := map[string]string{
		"pid":  strconv.Itoa(os.Getpid()),
		"uid":  strconv.Itoa(os.Getuid()),
		"euid": strconv.Itoa(os.Geteuid()),
	}

	if hostname, err := os.Hostname(); err == nil {
		fp["hostname"] = hostname
	}

	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		fp["sysname"] = utsString(uts.Sysname)
		fp["release"] = utsString(uts.Release)
		fp["machine"] = utsString(uts.Machine)
	} else {
		fp["uname_error"] = fmt.Sprintf("%v", err)
	}

	for _, name := range sessionEnv {
		if value, ok := os.LookupEnv(name); ok {
			fp["env."+name] = value
		}
	}
	return fp
}

func utsString(field [65]byte) string {
	for i, b := range field {
		if b == 0 {
			return string(field[:i])
		}
	}
	return string(field[:])
}
