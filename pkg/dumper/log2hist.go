package dumper

import (
	"fmt"
	"strings"
)

// PrintLog2Hist renders a character-drawn log2 histogram of vals (one
// bucket count per array slot, as produced by BPF_MAP_TYPE_HASH/ARRAY
// log2-bucketed sampling maps) into a string, labelled with unit.
func PrintLog2Hist(vals []uint32, unit string, out *strings.Builder) {
	const starsMax = 40

	idxMax := -1
	var valMax uint32
	for i, v := range vals {
		if v > 0 {
			idxMax = i
		}
		if v > valMax {
			valMax = v
		}
	}
	if idxMax < 0 {
		return
	}

	w1, w2 := 5, 19
	if idxMax > 32 {
		w1, w2 = 15, 29
	}
	fmt.Fprintf(out, "%*s%-*s : count    distribution\n", w1, "", w2, unit)

	stars := starsMax
	if idxMax > 32 {
		stars = starsMax / 2
	}

	width := 10
	if idxMax > 32 {
		width = 20
	}

	for i := 0; i <= idxMax; i++ {
		val := vals[i]
		low := (uint64(1) << (i + 1)) >> 1
		high := (uint64(1) << (i + 1)) - 1
		if low == high {
			low--
		}
		fmt.Fprintf(out, "%*d -> %-*d : %-8d |", width, low, width, high, val)
		printStars(val, valMax, stars, out)
		out.WriteString("|\n")
	}
}

func printStars(val, valMax uint32, width int, out *strings.Builder) {
	numStars := int(min32(val, valMax)) * width / int(valMax)
	numSpaces := width - numStars
	needPlus := val > valMax

	for i := 0; i < numStars; i++ {
		out.WriteByte('*')
	}
	for i := 0; i < numSpaces; i++ {
		out.WriteByte(' ')
	}
	if needPlus {
		out.WriteByte('+')
	}
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
