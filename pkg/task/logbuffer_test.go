package task

import "testing"

func appendN(b *logBuffer, n int) {
	for i := 0; i < n; i++ {
		b.append(LogEntry{Log: "line"})
	}
}

func TestLogBufferCursorsAreContiguous(t *testing.T) {
	b := newLogBuffer()
	appendN(b, 3)

	got := b.poll(nil, nil)
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	for i, e := range got {
		if e.Cursor != uint64(i+1) {
			t.Fatalf("entry %d: cursor = %d, want %d", i, e.Cursor, i+1)
		}
	}
}

func TestLogBufferPollPrunesUpToCursor(t *testing.T) {
	b := newLogBuffer()
	appendN(b, 3) // cursors 1,2,3

	cursor := uint64(2)
	got := b.poll(&cursor, nil)
	if len(got) != 2 || got[0].Cursor != 2 || got[1].Cursor != 3 {
		t.Fatalf("unexpected first poll result: %+v", got)
	}

	// Same cursor again returns nothing: entries 1 through 3 were pruned by
	// the first poll, and nothing new has been appended.
	got = b.poll(&cursor, nil)
	if len(got) != 0 {
		t.Fatalf("second poll with same cursor returned %d entries, want 0", len(got))
	}
}

func TestLogBufferPollRespectsMaximum(t *testing.T) {
	b := newLogBuffer()
	appendN(b, 5)

	max := 2
	got := b.poll(nil, &max)
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}

	// Without a cursor nothing is pruned, so all 5 entries are still buffered.
	got = b.poll(nil, nil)
	if len(got) != 5 {
		t.Fatalf("second poll (no cursor) got %d entries, want 5", len(got))
	}
}

func TestLogBufferPollWithCursorAndMaximumKeepsUnreturnedEntries(t *testing.T) {
	b := newLogBuffer()
	appendN(b, 5) // cursors 1..5

	cursor := uint64(1)
	max := 2
	got := b.poll(&cursor, &max)
	if len(got) != 2 || got[0].Cursor != 1 || got[1].Cursor != 2 {
		t.Fatalf("unexpected result: %+v", got)
	}

	// Cursors 3,4,5 were requested but not yet returned; they must
	// survive the prune for the next poll to find.
	next := uint64(3)
	got = b.poll(&next, nil)
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
}
