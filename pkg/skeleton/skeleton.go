// Package skeleton owns the lifecycle of one loaded eBPF object: resolving
// the BTF it needs, patching data-section initial values, attaching its
// programs, and driving the per-map poll loop that feeds an exporter.
package skeleton

import (
	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/btf"

	"github.com/saworbit/eunomia-runtime/pkg/btfcontainer"
	"github.com/saworbit/eunomia-runtime/pkg/meta"
)

// PreLoadSkeleton is an opened-but-not-loaded BPF object: maps and programs
// exist as specs, the kernel verifier hasn't run yet.
type PreLoadSkeleton struct {
	Meta          meta.EunomiaObjectMeta
	Spec          *ebpf.CollectionSpec
	BTF           *btfcontainer.Container
	KernelBTF     *btf.Spec // external BTF for CO-RE, nil when the running kernel's own BTF is usable
	MapValueSizes map[string]uint32
}

// LoadedSkeleton owns a verified, attached BPF object plus the polling
// handle its worker thread controls.
type LoadedSkeleton struct {
	Meta       meta.EunomiaObjectMeta
	BTF        *btfcontainer.Container
	Collection *ebpf.Collection
	Links      []AttachLink
	Handle     *PollingHandle
}

// Close tears down every attach link and releases the underlying
// collection. Safe to call once, after the skeleton's worker thread exits.
func (s *LoadedSkeleton) Close() error {
	var firstErr error
	for _, l := range s.Links {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.Collection.Close()
	return firstErr
}
