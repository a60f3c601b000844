//go:build !unix

package capability

import "runtime"

func uname() (version, machine string) {
	return "", runtime.GOARCH
}
