//go:build unix

package capability

import (
	"runtime"

	"golang.org/x/sys/unix"
)

func uname() (version, machine string) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "", runtime.GOARCH
	}
	return unix.ByteSliceToString(u.Version[:]), unix.ByteSliceToString(u.Machine[:])
}
