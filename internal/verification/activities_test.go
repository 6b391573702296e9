package verification

import (
	"encoding/json"
	"strings"
	"testing"
)

// Vendor:device ids such as 10de:20b0 only appear in the id-tagged
// lspci listing; counting them against the plain listing always yields
// zero, so the probe must request -nn output like the GPU detect script.
func TestSystemInfoScript_CountsTaggedGPUDevices(t *testing.T) {
	if !strings.Contains(systemInfoScript, "lspci -nn") {
		t.Fatal("system info script does not request id-tagged lspci output")
	}
	if !strings.Contains(systemInfoScript, "10de:") {
		t.Fatal("system info script does not count NVIDIA vendor ids")
	}
}

func TestSystemInfoScript_OutputShape(t *testing.T) {
	// What the script's printf emits on a representative host.
	out := `{"hostname":"provider-1","os":"Ubuntu 22.04.4 LTS","cpus":32,"memory_bytes":135291469824,"gpus":2}`

	var system SystemInfo
	if err := json.Unmarshal([]byte(out), &system); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if system.Hostname != "provider-1" || system.CPUs != 32 || system.GPUs != 2 {
		t.Fatalf("system = %+v, want hostname provider-1, 32 cpus, 2 gpus", system)
	}
}
