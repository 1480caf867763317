package mining

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

// SystemMemory reports the memory usage of the host as a fraction. It can
// be used as the engine monitor.
func SystemMemory() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("reading virtual memory: %w", err)
	}

	return vm.UsedPercent / 100, nil
}
