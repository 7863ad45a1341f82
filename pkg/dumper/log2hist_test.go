package dumper

import (
	"strings"
	"testing"
)

func TestPrintLog2HistMatchesReferenceVector(t *testing.T) {
	vals := []uint32{1, 1 << 3, (1 << 7) + 10, 1 << 9, (1 << 10) + 5, 1 << 4}

	var out strings.Builder
	PrintLog2Hist(vals, "qaq", &out)

	want := "     qaq                 : count    distribution\n" +
		"         0 -> 1          : 1        |                                        |\n" +
		"         2 -> 3          : 8        |                                        |\n" +
		"         4 -> 7          : 138      |*****                                   |\n" +
		"         8 -> 15         : 512      |*******************                     |\n" +
		"        16 -> 31         : 1029     |****************************************|\n" +
		"        32 -> 63         : 16       |                                        |\n"

	if out.String() != want {
		t.Errorf("log2 hist mismatch:\ngot:\n%s\nwant:\n%s", out.String(), want)
	}
}

func TestPrintLog2HistEmptyWhenAllZero(t *testing.T) {
	var out strings.Builder
	PrintLog2Hist([]uint32{0, 0, 0}, "x", &out)
	if out.String() != "" {
		t.Errorf("expected no output for all-zero histogram, got %q", out.String())
	}
}
