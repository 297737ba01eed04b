package metrics

import (
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/pbnjay/memory"
)

// SystemMemoryAvailable exposes a system_memory_available_bytes gauge, read
// on demand rather than sampled on a timer since total system memory rarely
// changes for the lifetime of a process.
var SystemMemoryAvailable = gometrics.GetOrRegisterGaugeFloat64("system_memory_available_bytes", Registry)

// RefreshSystemMemory updates SystemMemoryAvailable from the OS. Nothing in
// this module calls it, so the gauge stays at zero until a caller does; it
// is cheap enough to call on any accounting tick.
func RefreshSystemMemory() {
	SystemMemoryAvailable.Update(float64(memory.FreeMemory()))
}
