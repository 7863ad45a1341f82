package skeleton

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"

	"github.com/saworbit/eunomia-runtime/pkg/meta"
)

// AttachLink is a running attachment to the kernel, closed uniformly
// regardless of which attach path produced it.
type AttachLink interface {
	Close() error
}

// XDPExtraMeta carries the XDP-specific attach parameters surfaced via
// ProgMeta.Extra when Attach == "xdp".
type XDPExtraMeta struct {
	Ifindex int    `json:"ifindex"`
	Flags   uint32 `json:"flags"`
}

// TCExtraMeta carries the classic-TC-specific attach parameters surfaced
// via ProgMeta.Extra when Attach == "tc".
type TCExtraMeta struct {
	Ifindex     int    `json:"ifindex"`
	AttachPoint string `json:"attach_point"` // "ingress" or "egress"
	Handle      uint32 `json:"handle"`
	Priority    uint32 `json:"priority"`
}

func decodeExtra(extra map[string]interface{}, out interface{}) error {
	buf, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("marshal extra attach meta: %w", err)
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return fmt.Errorf("unmarshal extra attach meta: %w", err)
	}
	return nil
}

// attachProgram dispatches by a program's declared attach-point spelling to
// one of: the default libbpf-style link, an XDP attach via ifindex+flags,
// or a TC attach via hook+opts.
func attachProgram(prog *ebpf.Program, pm meta.ProgMeta) (AttachLink, error) {
	switch pm.Attach {
	case "xdp":
		return attachXDP(prog, pm)
	case "tc":
		return attachTC(prog, pm)
	default:
		return attachDefault(prog, pm)
	}
}

func attachXDP(prog *ebpf.Program, pm meta.ProgMeta) (AttachLink, error) {
	var extra XDPExtraMeta
	if err := decodeExtra(pm.Extra, &extra); err != nil {
		return nil, fmt.Errorf("decode xdp attach meta for %s: %w", pm.Name, err)
	}
	l, err := link.AttachXDP(link.XDPOptions{
		Program:   prog,
		Interface: extra.Ifindex,
		Flags:     link.XDPAttachFlags(extra.Flags),
	})
	if err != nil {
		return nil, fmt.Errorf("attach xdp program %s: %w", pm.Name, err)
	}
	return l, nil
}

// attachTC is a known gap: classic TC attachment needs qdisc/filter
// manipulation over netlink that cilium/ebpf's stable API doesn't expose a
// high-level helper for at the version pinned here, and nothing in this
// module's dependency set wraps netlink directly. Left failing loudly
// rather than faked.
func attachTC(_ *ebpf.Program, pm meta.ProgMeta) (AttachLink, error) {
	return nil, fmt.Errorf("tc attach for program %s is not supported by this runtime build", pm.Name)
}

func attachDefault(prog *ebpf.Program, pm meta.ProgMeta) (AttachLink, error) {
	spelling := pm.Attach

	switch {
	case strings.HasPrefix(spelling, "kretprobe/"):
		return link.Kretprobe(strings.TrimPrefix(spelling, "kretprobe/"), prog, nil)
	case strings.HasPrefix(spelling, "kprobe/"):
		return link.Kprobe(strings.TrimPrefix(spelling, "kprobe/"), prog, nil)
	case strings.HasPrefix(spelling, "tracepoint/"):
		parts := strings.SplitN(strings.TrimPrefix(spelling, "tracepoint/"), "/", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed tracepoint attach spelling %q for program %s", spelling, pm.Name)
		}
		return link.Tracepoint(parts[0], parts[1], prog, nil)
	case strings.HasPrefix(spelling, "raw_tracepoint/"):
		return link.AttachRawTracepoint(link.RawTracepointOptions{
			Name:    strings.TrimPrefix(spelling, "raw_tracepoint/"),
			Program: prog,
		})
	case strings.HasPrefix(spelling, "fentry/"), strings.HasPrefix(spelling, "fexit/"):
		return link.AttachTracing(link.TracingOptions{Program: prog})
	default:
		return nil, fmt.Errorf("unrecognized attach-point spelling %q for program %s", spelling, pm.Name)
	}
}
