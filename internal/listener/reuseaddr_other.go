//go:build !linux

package listener

import "net"

// listenConfig on non-Linux platforms uses the OS default; SO_REUSEADDR
// tuning is a Linux-specific optimization here, not a correctness
// requirement (spec.md never mandates a mechanism, only the behavior).
func listenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
