//go:build windows

package execbit

// Files are always created fresh on windows, so the bit is never read back.
const platformHasExecBit = false
