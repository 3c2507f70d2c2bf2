package metrics

import (
	"os"
	"runtime"
	"strings"
)

// HostInfo describes the process host, attached to performance reports so
// numbers from different machines are not compared blindly
type HostInfo struct {
	Hostname         string `json:"hostname"`
	OS               string `json:"os"`
	Arch             string `json:"arch"`
	CPULogical       int    `json:"cpuLogical"`
	GoVersion        string `json:"goVersion"`
	InContainer      bool   `json:"inContainer"`
	ContainerRuntime string `json:"containerRuntime,omitempty"`
}

// CaptureHostInfo gathers host details
func CaptureHostInfo() HostInfo {
	info := HostInfo{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		CPULogical: runtime.NumCPU(),
		GoVersion:  runtime.Version(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	} else {
		info.Hostname = "unknown"
	}

	info.InContainer, info.ContainerRuntime = detectContainer()
	return info
}

// detectContainer checks if running in a container
func detectContainer() (bool, string) {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true, "docker"
	}
	if _, err := os.Stat("/var/run/secrets/kubernetes.io"); err == nil {
		return true, "kubernetes"
	}

	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		content := string(data)
		switch {
		case strings.Contains(content, "docker"):
			return true, "docker"
		case strings.Contains(content, "kubepods"):
			return true, "kubernetes"
		case strings.Contains(content, "containerd"):
			return true, "containerd"
		}
	}
	return false, ""
}
