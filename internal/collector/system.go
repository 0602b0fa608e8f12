// Package collector gathers the data clients report in DATA packets.
package collector

import (
	"math"
	"net"
	"os"
	"os/user"
	"runtime"
	"strings"
	"time"

	"github.com/muurk/rotlink/internal/version"
	"github.com/pbnjay/memory"
)

// FlagSystem selects the system snapshot in a report.
const FlagSystem = "system"

var processStart = time.Now()

// Report is the JSON body of a DATA packet. Only the sections named by the
// configured data flags are present.
type Report struct {
	System *System `json:"system,omitempty"`
}

// System describes the host the reporter runs on.
type System struct {
	SystemInfo  SystemInfo  `json:"systemInfo"`
	MemoryInfo  MemoryInfo  `json:"memoryInfo"`
	CPUInfo     CPUInfo     `json:"cpuInfo"`
	NetworkInfo NetworkInfo `json:"networkInfo"`
}

type SystemInfo struct {
	Platform      string  `json:"platform"`
	Arch          string  `json:"arch"`
	GoVersion     string  `json:"goVersion"`
	AgentVersion  string  `json:"agentVersion"`
	Hostname      string  `json:"hostname"`
	Username      string  `json:"username"`
	ProcessUptime float64 `json:"processUptime"`
}

type MemoryInfo struct {
	// SystemMemory is total RAM in GiB.
	SystemMemory float64 `json:"systemMemory"`
	// SystemMemoryUsage is the used fraction of RAM.
	SystemMemoryUsage float64 `json:"systemMemoryUsage"`
	// ProcessMemory is memory obtained from the OS by this process, in MiB.
	ProcessMemory float64 `json:"processMemory"`
}

type CPUInfo struct {
	NumCPU     int `json:"numCpu"`
	Goroutines int `json:"goroutines"`
}

type NetworkInfo struct {
	NetworkInterfaces []string `json:"networkInterfaces"`
	LocalAddresses    []string `json:"localAddresses"`
}

// Collect builds a report containing the sections selected by flags.
// Unknown flags are ignored.
func Collect(flags []string) Report {
	var r Report
	for _, f := range flags {
		if f == FlagSystem {
			s := SystemSnapshot()
			r.System = &s
		}
	}
	return r
}

// SystemSnapshot samples the current host.
func SystemSnapshot() System {
	hostname, _ := os.Hostname()
	username := ""
	if u, err := user.Current(); err == nil {
		username = u.Username
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	total := memory.TotalMemory()
	free := memory.FreeMemory()
	usage := 0.0
	if total > 0 && free <= total {
		usage = 1 - float64(free)/float64(total)
	}

	ifaces, addrs := networkInfo()

	return System{
		SystemInfo: SystemInfo{
			Platform:      runtime.GOOS,
			Arch:          runtime.GOARCH,
			GoVersion:     runtime.Version(),
			AgentVersion:  version.Version,
			Hostname:      hostname,
			Username:      username,
			ProcessUptime: round2(time.Since(processStart).Seconds()),
		},
		MemoryInfo: MemoryInfo{
			SystemMemory:      round2(float64(total) / (1 << 30)),
			SystemMemoryUsage: round2(usage),
			ProcessMemory:     round2(float64(ms.Sys) / (1 << 20)),
		},
		CPUInfo: CPUInfo{
			NumCPU:     runtime.NumCPU(),
			Goroutines: runtime.NumGoroutine(),
		},
		NetworkInfo: NetworkInfo{
			NetworkInterfaces: ifaces,
			LocalAddresses:    addrs,
		},
	}
}

func networkInfo() (names, local []string) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil
	}
	for _, iface := range ifaces {
		names = append(names, iface.Name)
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ip := addrIP(a)
			if ip != nil && isLocalAddress(ip) {
				local = append(local, ip.String())
			}
		}
	}
	return names, local
}

func addrIP(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	}
	return nil
}

// isLocalAddress keeps the private IPv4 ranges a dashboard cares about.
func isLocalAddress(ip net.IP) bool {
	if ip.To4() == nil {
		return false
	}
	s := ip.String()
	for _, prefix := range []string{"192.168.", "10.", "172.16."} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
