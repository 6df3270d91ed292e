// control/platform.go
// Author: momentics <momentics@gmail.com>
//
// Platform probes: CPU topology as seen by the affinity layer.

package control

import "github.com/momentics/netdispatch/affinity"

// RegisterPlatformProbes sets platform debug probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return affinity.NumCPU()
	})
	dp.RegisterProbe("platform.allowed_cpus", func() any {
		cpus, err := affinity.Allowed()
		if err != nil {
			return err.Error()
		}
		return cpus
	})
}
