package rsync

import (
	"regexp"
	"strconv"
	"strings"
)

// Progress is the structured form of one recognized progress line.
type Progress struct {
	Bytes      uint64 // grouping separators stripped
	Percentage int    // 0-100
	Speed      string // e.g. "1.2MB/s"
	ETA        string // e.g. "0:01:23"
}

// Compiled once and shared; the parsing functions themselves stay stateless.
var (
	progressRe = regexp.MustCompile(`^(\d[\d.,]*)\s+(\d+)%\s+([\d.,]+[A-Za-z]+/[A-Za-z]+)\s+(\d{1,2}:\d{2}:\d{2})`)
)

// ParseProgress parses one line of rsync --progress output. It returns
// (progress, true) on a match and (zero, false) for anything else, including
// lines with malformed numeric fields. It never fails.
func ParseProgress(line string) (Progress, bool) {
	m := progressRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Progress{}, false
	}

	bytes, err := strconv.ParseUint(stripGrouping(m[1]), 10, 64)
	if err != nil {
		return Progress{}, false
	}

	pct, err := strconv.Atoi(m[2])
	if err != nil || pct > 100 {
		return Progress{}, false
	}

	return Progress{
		Bytes:      bytes,
		Percentage: pct,
		Speed:      m[3],
		ETA:        m[4],
	}, true
}

// ClassifyFileLine reports whether a line denotes a per-file transfer action:
// an itemized-changes entry starting with the sent ('>') or received ('<')
// marker. On a match the returned name is the final whitespace-delimited
// token of the line, which may be empty.
func ClassifyFileLine(line string) (string, bool) {
	if len(line) == 0 || (line[0] != '>' && line[0] != '<') {
		return "", false
	}
	fields := strings.Split(line, " ")
	return fields[len(fields)-1], true
}

// stripGrouping removes thousands-group separators before numeric parsing.
// rsync uses "," or "." depending on locale.
func stripGrouping(s string) string {
	s = strings.ReplaceAll(s, ",", "")
	return strings.ReplaceAll(s, ".", "")
}
