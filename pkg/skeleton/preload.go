package skeleton

import (
	"fmt"

	"github.com/cilium/ebpf"

	"github.com/saworbit/eunomia-runtime/pkg/meta"
	"github.com/saworbit/eunomia-runtime/pkg/sectionloader"
)

// LoadAndAttach patches every data section's initial map value, loads the
// object into the kernel (the verifier runs here), then attaches every
// declared program. On any failure after the kernel load succeeds,
// already-created links are torn down before returning the error.
func (p *PreLoadSkeleton) LoadAndAttach() (*LoadedSkeleton, error) {
	for _, section := range p.Meta.BpfSkel.DataSections {
		mapMeta, err := findSectionMap(p.Meta.BpfSkel, section.Name)
		if err != nil {
			return nil, err
		}

		mapSpec, ok := p.Spec.Maps[mapMeta.Name]
		if !ok {
			return nil, fmt.Errorf("map %q doesn't exist, cannot map section %q", mapMeta.Name, section.Name)
		}

		valueSize, ok := p.MapValueSizes[mapMeta.Name]
		if !ok {
			return nil, fmt.Errorf("map %q not found in value sizes", mapMeta.Name)
		}

		buffer := make([]byte, valueSize)
		if err := sectionloader.LoadSectionData(p.BTF, section, buffer); err != nil {
			return nil, fmt.Errorf("load section %s: %w", section.Name, err)
		}
		mapSpec.Contents = []ebpf.MapKV{{Key: uint32(0), Value: buffer}}
	}

	var progOpts ebpf.ProgramOptions
	if p.KernelBTF != nil {
		progOpts.KernelTypes = p.KernelBTF
	}

	collection, err := ebpf.NewCollectionWithOptions(p.Spec, ebpf.CollectionOptions{Programs: progOpts})
	if err != nil {
		return nil, fmt.Errorf("load bpf object: %w", err)
	}

	links := make([]AttachLink, 0, len(p.Meta.BpfSkel.Progs))
	for _, progMeta := range p.Meta.BpfSkel.Progs {
		prog, ok := collection.Programs[progMeta.Name]
		if !ok {
			collection.Close()
			closeAll(links)
			return nil, fmt.Errorf("program %q doesn't exist in the loaded object", progMeta.Name)
		}

		link, err := attachProgram(prog, progMeta)
		if err != nil {
			collection.Close()
			closeAll(links)
			return nil, fmt.Errorf("attach program %s: %w", progMeta.Name, err)
		}
		links = append(links, link)
	}

	return &LoadedSkeleton{
		Meta:       p.Meta,
		BTF:        p.BTF,
		Collection: collection,
		Links:      links,
		Handle:     &PollingHandle{},
	}, nil
}

func closeAll(links []AttachLink) {
	for _, l := range links {
		l.Close()
	}
}

// findSectionMap resolves a data section name to its backing map metadata.
// The ident spellings ("rodata" without a leading dot, ".bss" with one) are
// inconsistent between the two cases; that inconsistency is carried over
// verbatim from the loader this was ported from rather than normalized.
func findSectionMap(skel meta.BpfSkeletonMeta, sectionName string) (*meta.MapMeta, error) {
	switch sectionName {
	case ".rodata":
		m := skel.FindMapByIdent("rodata")
		if m == nil {
			return nil, fmt.Errorf("failed to find map with ident rodata for section .rodata")
		}
		return m, nil
	case ".bss":
		m := skel.FindMapByIdent(".bss")
		if m == nil {
			return nil, fmt.Errorf("failed to find map with ident .bss for section .bss")
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported section: %s", sectionName)
	}
}
