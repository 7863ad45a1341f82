package artifactcache

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/gabstv/go-bsdiff/pkg/bsdiff"
	"github.com/gabstv/go-bsdiff/pkg/bspatch"
)

const prefixVersion = "v:" // latest-revision pointer, keyed by artifact name

// ErrUnknownArtifactName is returned by GetVersion and History for a name
// that has never been stored.
var ErrUnknownArtifactName = errors.New("artifactcache: unknown artifact name")

// revision is one entry in a named artifact's version chain. A revision is
// either a snapshot (BaseCID and PatchCID empty) or a delta (BaseCID and
// PatchCID set) that also records a bsdiff patch against the revision it
// supersedes.
type revision struct {
	CID      string `json:"cid"`       // CID of this revision's full bytes
	BaseCID  string `json:"base_cid"`  // previous revision's CID, empty for a snapshot
	PatchCID string `json:"patch_cid"` // CID of the bsdiff patch, empty for a snapshot
}

type chain struct {
	Revisions []revision `json:"revisions"`
}

// deltaThreshold is the fraction of the full artifact's size a patch must
// beat to be worth storing as a delta instead of a fresh snapshot.
const deltaThreshold = 0.9

// PutVersion stores data as the next revision of the named artifact (e.g.
// a program name watched on disk, or a task's program identity across
// restarts). The full bytes are always stored through Put. When a previous
// revision exists and a bsdiff patch against it is smaller than
// deltaThreshold times the new artifact's size, the patch is stored as well
// and the revision is recorded as a delta; storing a delta does not avoid
// storing the full bytes. GetVersion returns the latest revision; earlier
// revisions' full bytes are reachable through Get with the CIDs History
// lists.
func (s *Store) PutVersion(name string, data []byte) (cid string, delta bool, err error) {
	cid, err = s.Put(data)
	if err != nil {
		return "", false, err
	}

	c, err := s.loadChain(name)
	if err != nil {
		return "", false, err
	}

	rev := revision{CID: cid}
	if len(c.Revisions) > 0 {
		prev := c.Revisions[len(c.Revisions)-1]
		if prev.CID != cid {
			baseData, err := s.Get(prev.CID)
			if err != nil {
				return "", false, fmt.Errorf("artifactcache: load base revision: %w", err)
			}
			patch, err := bsdiff.Bytes(baseData, data)
			if err == nil && len(patch) < int(float64(len(data))*deltaThreshold) {
				patchCID, perr := s.Put(patch)
				if perr == nil {
					rev.BaseCID = prev.CID
					rev.PatchCID = patchCID
					delta = true
				}
			}
		}
	}

	c.Revisions = append(c.Revisions, rev)
	if err := s.saveChain(name, c); err != nil {
		return "", false, err
	}
	return cid, delta, nil
}

// GetVersion reconstructs the current bytes of the named artifact's latest
// revision. Snapshots are returned directly; deltas are rebuilt by
// bspatch-ing forward from their base revision.
func (s *Store) GetVersion(name string) ([]byte, error) {
	c, err := s.loadChain(name)
	if err != nil {
		return nil, err
	}
	if len(c.Revisions) == 0 {
		return nil, ErrUnknownArtifactName
	}
	return s.materialize(c.Revisions[len(c.Revisions)-1])
}

// History returns the CIDs of every revision stored for name, oldest first.
func (s *Store) History(name string) ([]string, error) {
	c, err := s.loadChain(name)
	if err != nil {
		return nil, err
	}
	if len(c.Revisions) == 0 {
		return nil, ErrUnknownArtifactName
	}
	cids := make([]string, len(c.Revisions))
	for i, r := range c.Revisions {
		cids[i] = r.CID
	}
	return cids, nil
}

func (s *Store) materialize(r revision) ([]byte, error) {
	if r.PatchCID == "" {
		return s.Get(r.CID)
	}
	base, err := s.Get(r.BaseCID)
	if err != nil {
		return nil, fmt.Errorf("artifactcache: load base for delta revision: %w", err)
	}
	patch, err := s.Get(r.PatchCID)
	if err != nil {
		return nil, fmt.Errorf("artifactcache: load patch for delta revision: %w", err)
	}
	out, err := bspatch.Bytes(base, patch)
	if err != nil {
		return nil, fmt.Errorf("artifactcache: apply delta patch: %w", err)
	}
	return out, nil
}

func (s *Store) loadChain(name string) (chain, error) {
	val, closer, err := s.db.Get(versionKey(name))
	if errors.Is(err, pebble.ErrNotFound) {
		return chain{}, nil
	}
	if err != nil {
		return chain{}, err
	}
	defer closer.Close()

	var c chain
	if err := json.Unmarshal(val, &c); err != nil {
		return chain{}, fmt.Errorf("artifactcache: decode version chain: %w", err)
	}
	return c, nil
}

func (s *Store) saveChain(name string, c chain) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("artifactcache: encode version chain: %w", err)
	}
	return s.db.Set(versionKey(name), data, pebble.Sync)
}

func versionKey(name string) []byte { return []byte(prefixVersion + name) }
