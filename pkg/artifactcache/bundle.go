package artifactcache

import (
	"crypto/sha256"
	"fmt"

	"github.com/cbergoon/merkletree"
)

// Bundle is a named, ordered set of CIDs — a composed object's program CID
// alongside the CIDs of any BTF archive and auxiliary files a tar artifact
// carried with it — whose combined integrity can be checked with one root
// hash instead of one comparison per member.
type Bundle struct {
	Name string
	CIDs []string
}

// cidLeaf implements merkletree.Content over a single CID string.
type cidLeaf struct{ cid string }

func (l cidLeaf) CalculateHash() ([]byte, error) {
	h := sha256.Sum256([]byte(l.cid))
	return h[:], nil
}

func (l cidLeaf) Equals(other merkletree.Content) (bool, error) {
	o, ok := other.(cidLeaf)
	if !ok {
		return false, fmt.Errorf("artifactcache: comparing cidLeaf against %T", other)
	}
	return l.cid == o.cid, nil
}

// Root builds a Merkle tree over b's CIDs and returns its root hash. CIDs
// are hashed in the order given, so callers that need a stable root across
// re-bundling should sort their CID list first.
func Root(b Bundle) ([]byte, error) {
	if len(b.CIDs) == 0 {
		return nil, fmt.Errorf("artifactcache: bundle %q has no members", b.Name)
	}
	tree, err := buildTree(b.CIDs)
	if err != nil {
		return nil, err
	}
	return tree.MerkleRoot(), nil
}

// VerifyBundle re-derives b's Merkle root and reports whether it matches
// wantRoot, catching a dropped or substituted member of a multi-file
// artifact before it reaches a task.
func VerifyBundle(b Bundle, wantRoot []byte) (bool, error) {
	root, err := Root(b)
	if err != nil {
		return false, err
	}
	if len(root) != len(wantRoot) {
		return false, nil
	}
	for i := range root {
		if root[i] != wantRoot[i] {
			return false, nil
		}
	}
	return true, nil
}

// VerifyMember reports whether cid is actually one of b's leaves according
// to the tree's own internal consistency check, not just list membership.
func VerifyMember(b Bundle, cid string) (bool, error) {
	tree, err := buildTree(b.CIDs)
	if err != nil {
		return false, err
	}
	return tree.VerifyContent(cidLeaf{cid: cid})
}

func buildTree(cids []string) (*merkletree.MerkleTree, error) {
	leaves := make([]merkletree.Content, len(cids))
	for i, c := range cids {
		leaves[i] = cidLeaf{cid: c}
	}
	tree, err := merkletree.NewTree(leaves)
	if err != nil {
		return nil, fmt.Errorf("artifactcache: build merkle tree for bundle: %w", err)
	}
	return tree, nil
}
