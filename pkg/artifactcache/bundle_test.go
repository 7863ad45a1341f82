package artifactcache

import "testing"

func TestRootIsStableAndOrderSensitive(t *testing.T) {
	b := Bundle{Name: "prog-bundle", CIDs: []string{"cidA", "cidB", "cidC"}}

	root1, err := Root(b)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	root2, err := Root(b)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if string(root1) != string(root2) {
		t.Fatal("Root should be deterministic for the same CID list")
	}

	reordered := Bundle{Name: "prog-bundle", CIDs: []string{"cidB", "cidA", "cidC"}}
	root3, err := Root(reordered)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if string(root1) == string(root3) {
		t.Fatal("expected a different root for a different member order")
	}
}

func TestRootRejectsEmptyBundle(t *testing.T) {
	if _, err := Root(Bundle{Name: "empty"}); err == nil {
		t.Fatal("expected an error for a bundle with no members")
	}
}

func TestVerifyBundleDetectsTamperedMember(t *testing.T) {
	b := Bundle{Name: "prog-bundle", CIDs: []string{"cidA", "cidB", "cidC"}}
	root, err := Root(b)
	if err != nil {
		t.Fatalf("Root: %v", err)
	}

	ok, err := VerifyBundle(b, root)
	if err != nil {
		t.Fatalf("VerifyBundle: %v", err)
	}
	if !ok {
		t.Fatal("expected the unmodified bundle to verify against its own root")
	}

	tampered := Bundle{Name: "prog-bundle", CIDs: []string{"cidA", "cidX", "cidC"}}
	ok, err = VerifyBundle(tampered, root)
	if err != nil {
		t.Fatalf("VerifyBundle: %v", err)
	}
	if ok {
		t.Fatal("expected a substituted member to fail verification")
	}
}

func TestVerifyMemberFindsKnownCIDAndRejectsUnknown(t *testing.T) {
	b := Bundle{Name: "prog-bundle", CIDs: []string{"cidA", "cidB", "cidC"}}

	ok, err := VerifyMember(b, "cidB")
	if err != nil {
		t.Fatalf("VerifyMember: %v", err)
	}
	if !ok {
		t.Fatal("expected cidB to verify as a member of the bundle")
	}

	ok, err = VerifyMember(b, "cidZ")
	if err != nil {
		t.Fatalf("VerifyMember: %v", err)
	}
	if ok {
		t.Fatal("expected an absent CID to fail membership verification")
	}
}
