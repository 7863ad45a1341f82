package artifactcache

import (
	"bytes"
	"errors"
	"testing"
)

func TestPutVersionFirstRevisionIsASnapshot(t *testing.T) {
	s := openTestStore(t)

	if _, delta, err := s.PutVersion("xdp-drop", []byte("v1 bytes")); err != nil {
		t.Fatalf("PutVersion: %v", err)
	} else if delta {
		t.Fatal("first revision should never be stored as a delta")
	}

	got, err := s.GetVersion("xdp-drop")
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if string(got) != "v1 bytes" {
		t.Fatalf("got %q, want %q", got, "v1 bytes")
	}
}

func TestPutVersionStoresDeltaForSimilarRevisions(t *testing.T) {
	s := openTestStore(t)

	base := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200)
	v2 := append(append([]byte(nil), base...), []byte("one appended line")...)

	if _, _, err := s.PutVersion("xdp-drop", base); err != nil {
		t.Fatalf("PutVersion v1: %v", err)
	}
	_, delta, err := s.PutVersion("xdp-drop", v2)
	if err != nil {
		t.Fatalf("PutVersion v2: %v", err)
	}
	if !delta {
		t.Fatal("expected the near-identical second revision to be stored as a delta")
	}

	got, err := s.GetVersion("xdp-drop")
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if !bytes.Equal(got, v2) {
		t.Fatal("reconstructed revision does not match the original bytes")
	}
}

func TestHistoryListsEveryRevisionInOrder(t *testing.T) {
	s := openTestStore(t)

	for _, data := range [][]byte{[]byte("v1"), []byte("v2"), []byte("v3")} {
		if _, _, err := s.PutVersion("prog", data); err != nil {
			t.Fatalf("PutVersion: %v", err)
		}
	}

	history, err := s.History("prog")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("History length = %d, want 3", len(history))
	}

	last, err := s.GetVersion("prog")
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if string(last) != "v3" {
		t.Fatalf("latest revision = %q, want v3", last)
	}
}

func TestGetVersionOnUnknownNameFails(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetVersion("never-seen"); !errors.Is(err, ErrUnknownArtifactName) {
		t.Fatalf("got %v, want ErrUnknownArtifactName", err)
	}
}

func TestPutVersionIdenticalBytesSkipsDelta(t *testing.T) {
	s := openTestStore(t)

	data := []byte("identical every time")
	if _, _, err := s.PutVersion("steady", data); err != nil {
		t.Fatalf("PutVersion v1: %v", err)
	}
	_, delta, err := s.PutVersion("steady", data)
	if err != nil {
		t.Fatalf("PutVersion v2: %v", err)
	}
	if delta {
		t.Fatal("re-submitting identical bytes should not produce a delta revision")
	}
}
