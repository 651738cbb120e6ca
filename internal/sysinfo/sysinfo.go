// Package sysinfo provides cross-platform access to host system information.
// It drives resource defaults for locally hosted sandboxes.
package sysinfo

// fallbackMemory is the default memory (8GB) assumed when the host memory
// cannot be determined.
const fallbackMemory = 8 * 1024 * 1024 * 1024
