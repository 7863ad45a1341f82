package skeleton

import (
	"bytes"
	"fmt"

	"github.com/cilium/ebpf"

	"github.com/saworbit/eunomia-runtime/pkg/btfcontainer"
	"github.com/saworbit/eunomia-runtime/pkg/meta"
)

// Builder opens a compiled ELF object against its metadata, resolving
// whichever BTF source the running system needs for CO-RE relocations.
type Builder struct {
	ObjectMeta     meta.EunomiaObjectMeta
	BPFObject      []byte
	BTFArchivePath string // optional: root of a local BTFHub-style archive
}

// Build parses the ELF, extracts its own embedded BTF (for event dumping),
// resolves external kernel BTF if needed (for CO-RE relocation), and
// returns a PreLoadSkeleton ready for LoadAndAttach.
func (b Builder) Build() (*PreLoadSkeleton, error) {
	spec, err := ebpf.LoadCollectionSpecFromReader(bytes.NewReader(b.BPFObject))
	if err != nil {
		return nil, fmt.Errorf("parse bpf object: %w", err)
	}

	if spec.Types == nil {
		return nil, fmt.Errorf("bpf object carries no embedded BTF")
	}
	container, err := btfcontainer.NewFromSpec(spec.Types)
	if err != nil {
		return nil, fmt.Errorf("parse embedded btf: %w", err)
	}

	kernelBTF, err := resolveKernelBTF(b.BTFArchivePath)
	if err != nil {
		return nil, err
	}

	mapValueSizes := make(map[string]uint32, len(spec.Maps))
	for name, m := range spec.Maps {
		mapValueSizes[name] = m.ValueSize
	}

	return &PreLoadSkeleton{
		Meta:          b.ObjectMeta,
		Spec:          spec,
		BTF:           container,
		KernelBTF:     kernelBTF,
		MapValueSizes: mapValueSizes,
	}, nil
}
