package report

import (
	"strings"
	"testing"
)

func TestChangeTag(t *testing.T) {
	tests := []struct {
		name string
		logs []LogEntry
		want string
	}{
		{
			name: "deduplicated sorted basenames",
			logs: []LogEntry{
				{File: "a/b/c.pp"},
				{File: "d/e/c.pp"},
				{File: "x/a.pp"},
			},
			want: "a.pp%2C%20c.pp",
		},
		{
			name: "no files falls back to default",
			logs: []LogEntry{{Message: "applied"}},
			want: "config%20run",
		},
		{
			name: "nil logs",
			logs: nil,
			want: "config%20run",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ChangeTag(tt.logs); got != tt.want {
				t.Errorf("ChangeTag() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChangeTagTruncatesBeforeEncoding(t *testing.T) {
	logs := []LogEntry{
		{File: "aaaaaaaaaaaaaaaaaaaa.pp"},
		{File: "bbbbbbbbbbbbbbbbbbbb.pp"},
		{File: "cccccccccccccccccccc.pp"},
	}
	got := ChangeTag(logs)

	// 41 characters of joined names, then encoded: the encoded form may
	// be longer, but decoding it back must give exactly 41.
	decoded := strings.ReplaceAll(got, "%20", " ")
	decoded = strings.ReplaceAll(decoded, "%2C", ",")
	if len(decoded) != 41 {
		t.Errorf("decoded tag length = %d (%q), want 41", len(decoded), decoded)
	}
	if !strings.HasPrefix(decoded, "aaaaaaaaaaaaaaaaaaaa.pp, bbbb") {
		t.Errorf("decoded tag = %q, want sorted names joined with \", \"", decoded)
	}
}

func TestChangeTagTruncatesRunesNotBytes(t *testing.T) {
	// 45 two-byte runes: a byte-wise cut at 41 would split a rune in
	// half and encode the dangling byte on its own.
	name := strings.Repeat("é", 45) + ".pp"
	got := ChangeTag([]LogEntry{{File: name}})

	want := EncodeTag(strings.Repeat("é", 41))
	if got != want {
		t.Errorf("ChangeTag() = %q, want %q (41 whole characters)", got, want)
	}
}

func TestEncodeTagUsesPercent20(t *testing.T) {
	if got := EncodeTag("a b"); got != "a%20b" {
		t.Errorf("EncodeTag(\"a b\") = %q, want a%%20b", got)
	}
}

func TestOfflineTag(t *testing.T) {
	got := OfflineTag("site.pp")
	if got != "site.pp%20%28offline%20mode%29" {
		t.Errorf("OfflineTag() = %q", got)
	}
}

func TestShouldProcess(t *testing.T) {
	tests := []struct {
		status   string
		testMode bool
		want     bool
	}{
		{"changed", false, true},
		{"failed", false, true},
		{"unchanged", false, false},
		{"unchanged", true, true},
		{"changed", true, false},
		{"skipped", false, false},
	}
	for _, tt := range tests {
		if got := ShouldProcess(tt.status, tt.testMode); got != tt.want {
			t.Errorf("ShouldProcess(%q, %t) = %t, want %t", tt.status, tt.testMode, got, tt.want)
		}
	}
}

func TestIgnoredHost(t *testing.T) {
	if !IgnoredHost("build-agent-3.example.com", "build-agent") {
		t.Error("substring match should be ignored")
	}
	if IgnoredHost("web01.example.com", "build-agent") {
		t.Error("non-matching host should not be ignored")
	}
	if IgnoredHost("web01.example.com", "") {
		t.Error("empty filter ignores nothing")
	}
}

func TestParseJSON(t *testing.T) {
	run, err := Parse([]byte(`{"host":"web01","status":"changed","logs":[{"file":"site.pp"}]}`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if run.Host != "web01" || run.Status != "changed" || len(run.Logs) != 1 {
		t.Errorf("run = %+v", run)
	}
}

func TestParseYAML(t *testing.T) {
	run, err := Parse([]byte("host: web01\nstatus: failed\nlogs:\n  - file: site.pp\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if run.Host != "web01" || run.Status != "failed" {
		t.Errorf("run = %+v", run)
	}
}

func TestParseRejectsIncompleteRecords(t *testing.T) {
	for _, data := range []string{
		``,
		`{}`,
		`{"host":"web01"}`,
		`{"status":"changed"}`,
		`{broken`,
	} {
		if _, err := Parse([]byte(data)); err == nil {
			t.Errorf("Parse(%q) should fail", data)
		}
	}
}
