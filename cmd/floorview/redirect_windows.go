//go:build windows

package main

import "os"

// redirectStderr does nothing on Windows, which has no dup2.
func redirectStderr(f *os.File) {}
