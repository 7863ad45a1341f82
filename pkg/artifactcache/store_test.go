package artifactcache

import (
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := pebble.Open("test", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := Open(db, "sha256")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestPutGetRoundTrips(t *testing.T) {
	s := openTestStore(t)

	data := []byte("compiled ebpf object bytes")
	cid, err := s.Put(data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(cid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestPutDeduplicatesIdenticalBytes(t *testing.T) {
	s := openTestStore(t)

	data := []byte("same artifact twice")
	cid1, err := s.Put(data)
	if err != nil {
		t.Fatalf("first Put: %v", err)
	}
	cid2, err := s.Put(data)
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if cid1 != cid2 {
		t.Fatalf("expected identical CIDs, got %s and %s", cid1, cid2)
	}
}

func TestGetUnknownCIDFails(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get("not-a-real-cid"); err == nil {
		t.Fatal("expected an error for an unknown CID")
	}
}

func TestReferenceCountingGatesGarbageCollect(t *testing.T) {
	s := openTestStore(t)

	cid, err := s.Put([]byte("referenced artifact"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.AddReference(cid, "task-1"); err != nil {
		t.Fatalf("AddReference: %v", err)
	}

	if n, err := s.GarbageCollect(); err != nil || n != 0 {
		t.Fatalf("GarbageCollect with a live reference: n=%d err=%v", n, err)
	}

	if err := s.RemoveReference(cid, "task-1"); err != nil {
		t.Fatalf("RemoveReference: %v", err)
	}
	n, err := s.GarbageCollect()
	if err != nil {
		t.Fatalf("GarbageCollect: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 artifact collected, got %d", n)
	}
	if ok, _ := s.Has(cid); ok {
		t.Fatal("artifact should have been deleted")
	}
}

func TestGarbageCollectRemovesNeverReferencedArtifact(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.Put([]byte("never referenced")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	n, err := s.GarbageCollect()
	if err != nil {
		t.Fatalf("GarbageCollect: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the unreferenced artifact to be collected, got n=%d", n)
	}
}

func TestGetStatsCountsArtifactsAndUnreferenced(t *testing.T) {
	s := openTestStore(t)

	referenced, err := s.Put([]byte("kept"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.AddReference(referenced, "task-1"); err != nil {
		t.Fatalf("AddReference: %v", err)
	}
	if _, err := s.Put([]byte("orphan")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalArtifacts != 2 {
		t.Fatalf("TotalArtifacts = %d, want 2", stats.TotalArtifacts)
	}
	if stats.UnreferencedCIDs != 1 {
		t.Fatalf("UnreferencedCIDs = %d, want 1", stats.UnreferencedCIDs)
	}
}

func TestOpenRejectsUnsupportedHashAlgo(t *testing.T) {
	db, err := pebble.Open("test", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	defer db.Close()

	if _, err := Open(db, "md5"); err == nil {
		t.Fatal("expected an error for an unsupported hash algorithm")
	}
}
