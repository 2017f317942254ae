package postproc

import (
	"strings"
	"unicode/utf8"
)

const fenceMarker = "```"

// Chunk splits text on line boundaries into pieces no longer than max.
// A boundary falling inside a fenced code block closes the fence at the
// end of the chunk and reopens it, language tag included, at the start
// of the next one. A single line longer than the budget is hard-split.
func Chunk(text string, max int) []string {
	if max <= 0 || len(text) <= max {
		return []string{text}
	}

	var (
		chunks    []string
		cur       strings.Builder
		reopen    string
		fenceOpen bool
		fenceLang string
	)

	// Room is always reserved for a closing fence so a block opened by
	// the last line of a chunk can still be terminated in place.
	closeBudget := len("\n" + fenceMarker)

	avail := func() int {
		n := max - closeBudget - cur.Len()
		if cur.Len() == 0 && reopen != "" {
			n -= len(reopen) + 1
		}
		if cur.Len() > 0 {
			n--
		}
		if n < 1 {
			n = 1
		}
		return n
	}

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		body := cur.String()
		if fenceOpen {
			body += "\n" + fenceMarker
		}
		chunks = append(chunks, body)
		cur.Reset()
		reopen = ""
		if fenceOpen {
			reopen = fenceMarker + fenceLang
		}
	}

	writeLine := func(line string) {
		if cur.Len() == 0 && reopen != "" {
			cur.WriteString(reopen)
			reopen = ""
		}
		if cur.Len() > 0 {
			cur.WriteString("\n")
		}
		cur.WriteString(line)
	}

	for _, line := range strings.Split(text, "\n") {
		if len(line) > avail() {
			flush()
			for len(line) > avail() {
				n := splitPoint(line, avail())
				writeLine(line[:n])
				line = line[n:]
				flush()
			}
		}
		writeLine(line)

		if strings.HasPrefix(line, fenceMarker) {
			if fenceOpen {
				fenceOpen = false
				fenceLang = ""
			} else {
				fenceOpen = true
				fenceLang = strings.TrimSpace(strings.TrimPrefix(line, fenceMarker))
			}
		}
	}
	flush()
	return chunks
}

// splitPoint backs n off to a rune boundary so a hard split never emits
// a torn multi-byte character.
func splitPoint(line string, n int) int {
	for n > 0 && n < len(line) && !utf8.RuneStart(line[n]) {
		n--
	}
	if n == 0 {
		// A single rune wider than the budget still has to go somewhere.
		_, size := utf8.DecodeRuneInString(line)
		return size
	}
	return n
}
