package sampler

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

// CaseInfo is written to each run's results directory for provenance when
// comparing results collected on different machines.
type CaseInfo struct {
	CaseName  string
	Directory string
	Run       int
	Steps     int
}

// WriteCaseInfo writes a case-info.txt file describing the case and the
// host hardware.
func WriteCaseInfo(path string, info CaseInfo) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "===> CASE <===\n")
	fmt.Fprintf(&b, "Name: %s\n", info.CaseName)
	fmt.Fprintf(&b, "Timestamp: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Directory: %s\n", info.Directory)
	fmt.Fprintf(&b, "Run: %d\n", info.Run)
	fmt.Fprintf(&b, "Number of steps: %d\n", info.Steps)
	fmt.Fprintf(&b, "\n===> HARDWARE <===\n")
	fmt.Fprintf(&b, "Hostname: %s\n", hostname)
	fmt.Fprintf(&b, "OS: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&b, "Kernel: %s\n", kernelVersion())
	fmt.Fprintf(&b, "CPU model: %s\n", cpuModel())
	fmt.Fprintf(&b, "Logical CPUs: %d\n", runtime.NumCPU())

	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func kernelVersion() string {
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return "unknown"
	}
	parts := strings.Fields(string(data))
	if len(parts) < 3 {
		return "unknown"
	}
	return parts[2]
}

func cpuModel() string {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return "unknown"
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "model name") {
			if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}
	return "unknown"
}
