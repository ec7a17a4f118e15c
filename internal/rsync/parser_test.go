package rsync

import (
	"testing"
)

func TestParseProgress(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Progress
		ok    bool
	}{
		{
			name:  "typical progress line",
			input: "  1,234,567  45%  1.2MB/s  0:01:23",
			want:  Progress{Bytes: 1234567, Percentage: 45, Speed: "1.2MB/s", ETA: "0:01:23"},
			ok:    true,
		},
		{
			name:  "dot grouping separator",
			input: "1.234.567 45% 1,2MB/s 0:01:23",
			want:  Progress{Bytes: 1234567, Percentage: 45, Speed: "1,2MB/s", ETA: "0:01:23"},
			ok:    true,
		},
		{
			name:  "no grouping",
			input: "512 3% 98.50kB/s 0:00:01",
			want:  Progress{Bytes: 512, Percentage: 3, Speed: "98.50kB/s", ETA: "0:00:01"},
			ok:    true,
		},
		{
			name:  "two digit hours",
			input: "9,000,000,000 12% 1.03MB/s 14:22:05",
			want:  Progress{Bytes: 9000000000, Percentage: 12, Speed: "1.03MB/s", ETA: "14:22:05"},
			ok:    true,
		},
		{
			name:  "zero percent",
			input: "0 0% 0.00kB/s 0:00:00",
			want:  Progress{Bytes: 0, Percentage: 0, Speed: "0.00kB/s", ETA: "0:00:00"},
			ok:    true,
		},
		{
			name:  "hundred percent with trailing transfer counter",
			input: "4,096 100% 3.91MB/s 0:00:00 (xfr#1, to-chk=0/1)",
			want:  Progress{Bytes: 4096, Percentage: 100, Speed: "3.91MB/s", ETA: "0:00:00"},
			ok:    true,
		},

		// Rejections
		{name: "empty line", input: ""},
		{name: "plain log text", input: "sending incremental file list"},
		{name: "itemized line", input: ">f+++++++++ docs/readme.md"},
		{name: "missing percent sign", input: "1,234 45 1.2MB/s 0:01:23"},
		{name: "missing speed", input: "1,234 45% 0:01:23"},
		{name: "malformed timestamp", input: "1,234 45% 1.2MB/s 123:45"},
		{name: "three digit hours", input: "1,234 45% 1.2MB/s 123:45:00"},
		{name: "percentage over 100", input: "1,234 250% 1.2MB/s 0:01:23"},
		{name: "non numeric bytes", input: "abc 45% 1.2MB/s 0:01:23"},
		{name: "speed without unit", input: "1,234 45% 1.2 0:01:23"},
		{name: "stats line that looks similar", input: "total size is 500000  speedup is 2.50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseProgress(tt.input)
			if ok != tt.ok {
				t.Fatalf("ParseProgress(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if !tt.ok {
				return
			}
			if got != tt.want {
				t.Errorf("ParseProgress(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseProgressDeterministic(t *testing.T) {
	line := "1,234,567 45% 1.2MB/s 0:01:23"
	first, ok := ParseProgress(line)
	if !ok {
		t.Fatalf("ParseProgress(%q) did not match", line)
	}
	for i := 0; i < 100; i++ {
		got, ok := ParseProgress(line)
		if !ok || got != first {
			t.Fatalf("ParseProgress(%q) not deterministic: %+v vs %+v", line, got, first)
		}
	}
}

func TestClassifyFileLine(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantName string
		ok       bool
	}{
		{"sent marker", ">f+++++++++ docs/readme.md", "docs/readme.md", true},
		{"received marker", "<f.st...... photos/cat.jpg", "photos/cat.jpg", true},
		{"marker with trailing space", ">f+++++++++ ", "", true},
		{"marker only", ">", ">", true},
		{"empty line", "", "", false},
		{"progress line", "1,234 45% 1.2MB/s 0:01:23", "", false},
		{"directory itemize", "cd+++++++++ docs/", "", false},
		{"deletion itemize", "*deleting   old.txt", "", false},
		{"plain text", "sending incremental file list", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, ok := ClassifyFileLine(tt.input)
			if ok != tt.ok {
				t.Fatalf("ClassifyFileLine(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if ok && name != tt.wantName {
				t.Errorf("ClassifyFileLine(%q) = %q, want %q", tt.input, name, tt.wantName)
			}
		})
	}
}
