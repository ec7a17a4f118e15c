package rsync

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Derived stat keys produced by ParseStats.
const (
	StatFilesTotal       = "Number of files (total)"
	StatFilesRegular     = "Number of files (regular)"
	StatFilesDirectories = "Number of files (directories)"
	StatFilesLinks       = "Number of files (links)"
	StatTotalSize        = "Total size (summary)"
	StatSpeedup          = "Speedup"
	StatRunType          = "Run type"
)

var (
	keyValueRe     = regexp.MustCompile(`^(.+?):\s*(.*)$`)
	numFilesRe     = regexp.MustCompile(`([\d.,]+)\s+\(reg:\s*([\d.,]+),\s*dir:\s*([\d.,]+)(?:,\s*link:\s*([\d.,]+))?\s*\)`)
	totalSpeedupRe = regexp.MustCompile(`total size is ([\d.,]+)\s+speedup is ([\d.,]+)\s+\((.*)\)`)
)

// ParseStats extracts named statistics from the captured output of an
// `rsync --stats` dry run. Per non-blank line, first match wins:
//
//  1. "label: value" pairs are stored verbatim, except that the value of
//     "Number of files" is re-parsed into total/regular/directory/link
//     counts. The link key is only present when rsync reported one.
//  2. "total size is N  speedup is S  (TYPE)" stores the three derived keys.
//
// Lines matching neither pattern are ignored.
func ParseStats(output string) map[string]string {
	stats := make(map[string]string)

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := keyValueRe.FindStringSubmatch(line); m != nil {
			key := strings.TrimSpace(m[1])
			value := strings.TrimSpace(m[2])

			if key == "Number of files" {
				if nm := numFilesRe.FindStringSubmatch(value); nm != nil {
					stats[StatFilesTotal] = nm[1]
					stats[StatFilesRegular] = nm[2]
					stats[StatFilesDirectories] = nm[3]
					if nm[4] != "" {
						stats[StatFilesLinks] = nm[4]
					}
				}
				continue
			}

			stats[key] = value
			continue
		}

		if m := totalSpeedupRe.FindStringSubmatch(line); m != nil {
			stats[StatTotalSize] = m[1]
			stats[StatSpeedup] = m[2]
			stats[StatRunType] = m[3]
		}
	}

	return stats
}

// RegularFileCount returns the regular-file count from parsed stats, the
// denominator of overall progress. Grouping separators are stripped before
// parsing.
func RegularFileCount(stats map[string]string) (uint64, error) {
	raw, ok := stats[StatFilesRegular]
	if !ok {
		return 0, fmt.Errorf("regular file count not present in stats")
	}
	n, err := strconv.ParseUint(stripGrouping(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid regular file count %q: %w", raw, err)
	}
	return n, nil
}
