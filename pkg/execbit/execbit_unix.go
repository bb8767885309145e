//go:build !windows

package execbit

const platformHasExecBit = true
