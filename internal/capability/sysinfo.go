// ABOUTME: SystemFacts gathers the host description sent as the first frame.

package capability

import (
	"net"
	"os"
	"os/user"
	"runtime"
	"strings"

	"github.com/2389/outpost/internal/protocol"
)

const unknown = "Unknown"

// SystemFacts builds a Descriptor for the local host.
func SystemFacts(flags protocol.CapabilityFlags) protocol.Descriptor {
	hostname, ip := unknown, unknown
	if h, err := os.Hostname(); err == nil {
		hostname = h
		ip = lookupIP(h)
	}

	version, machine := uname()
	return protocol.Descriptor{
		Hostname:        hostname,
		Username:        currentUser(),
		Platform:        platformName(runtime.GOOS),
		PlatformVersion: version,
		Architecture:    machine,
		Processor:       machine,
		IPAddress:       ip,
		RuntimeVersion:  runtime.Version(),
		Capabilities:    flags,
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	for _, key := range []string{"USER", "USERNAME", "LOGNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return unknown
}

// lookupIP resolves hostname to its first IPv4 address.
func lookupIP(hostname string) string {
	addrs, err := net.LookupIP(hostname)
	if err != nil {
		return unknown
	}
	for _, a := range addrs {
		if v4 := a.To4(); v4 != nil {
			return v4.String()
		}
	}
	if len(addrs) > 0 {
		return addrs[0].String()
	}
	return unknown
}

// platformName renders GOOS the way operators expect to read it.
func platformName(goos string) string {
	switch goos {
	case "darwin":
		return "Darwin"
	case "freebsd":
		return "FreeBSD"
	case "openbsd":
		return "OpenBSD"
	case "netbsd":
		return "NetBSD"
	}
	if goos == "" {
		return unknown
	}
	return strings.ToUpper(goos[:1]) + goos[1:]
}
