//go:build !linux

package skeleton

import "fmt"

func readOSRelease() (id, versionID string, err error) {
	return "", "", fmt.Errorf("os-release detection is only supported on linux")
}

func unameParts() (machine, release string, err error) {
	return "", "", fmt.Errorf("uname detection is only supported on linux")
}
