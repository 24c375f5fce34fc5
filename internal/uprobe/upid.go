// Package uprobe manages the lifecycle of user-space probes: process
// and library discovery, symbol-address propagation into kernel maps,
// per-binary attach deduplication, and exponential-backoff rescanning
// for libraries bound late via dlopen.
package uprobe

import "fmt"

// UPID is a universal process id: pid recycling cannot collide two
// distinct processes because the start-time ticks differ.
type UPID struct {
	ASID           uint32
	PID            uint32
	StartTimeTicks uint64
}

func (u UPID) String() string {
	return fmt.Sprintf("%d:%d:%d", u.ASID, u.PID, u.StartTimeTicks)
}
