package skeleton

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cilium/ebpf/btf"
)

const (
	vmlinuxBTFPath = "/sys/kernel/btf/vmlinux"
	btfPathEnvVar  = "BTF_FILE_PATH"
)

// resolveKernelBTF picks the external BTF spec the loader should pass as
// CO-RE relocation input, or nil when the running kernel's own BTF (which
// the loader auto-detects) is usable and nothing overrides it.
//
// Priority, matching the source this was ported from: (1) archivePath,
// resolved to a per-system file, but only consulted when the system
// vmlinux BTF is absent or unreadable; (2) the BTF_FILE_PATH environment
// variable, which is consulted even when vmlinux is usable; (3) the system
// vmlinux, used implicitly by returning nil; (4) if none of the above
// apply and vmlinux isn't usable, fail outright.
func resolveKernelBTF(archivePath string) (*btf.Spec, error) {
	vmlinuxUsable := vmlinuxBTFUsable()

	if archivePath != "" && !vmlinuxUsable {
		path, err := currentSystemBTFFile(archivePath)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("btf file not found for current system: %s", path)
		}
		spec, err := btf.LoadSpec(path)
		if err != nil {
			return nil, fmt.Errorf("load btf archive file %s: %w", path, err)
		}
		return spec, nil
	}

	if envPath := os.Getenv(btfPathEnvVar); envPath != "" {
		spec, err := btf.LoadSpec(envPath)
		if err != nil {
			return nil, fmt.Errorf("load btf from %s=%s: %w", btfPathEnvVar, envPath, err)
		}
		return spec, nil
	}

	if !vmlinuxUsable {
		return nil, fmt.Errorf("no usable kernel btf found: tried archive path %q, env %s, and %s",
			archivePath, btfPathEnvVar, vmlinuxBTFPath)
	}
	return nil, nil
}

func vmlinuxBTFUsable() bool {
	info, err := os.Stat(vmlinuxBTFPath)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0o400 != 0
}

// currentSystemBTFFile derives the per-system BTF file path under an
// archive root by combining the OS release id, OS release version, kernel
// machine and kernel release — the layout BTFHub-style archives use.
func currentSystemBTFFile(archiveRoot string) (string, error) {
	id, version, err := readOSRelease()
	if err != nil {
		return "", err
	}
	machine, release, err := unameParts()
	if err != nil {
		return "", err
	}
	return filepath.Join(archiveRoot, id, version, machine, release+".btf"), nil
}
