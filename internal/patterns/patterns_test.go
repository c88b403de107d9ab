package patterns

import (
	"testing"

	"DiscordContextBot/internal/storage"
)

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	files := storage.NewFileStore(t.TempDir())
	m, err := NewMatcher(files, "patterns.json")
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestParseFlagsRoundTrip(t *testing.T) {
	flags, err := ParseFlags("IGNORECASE|VERBOSE|DOTALL")
	if err != nil {
		t.Fatal(err)
	}
	if flags&FlagIgnoreCase == 0 || flags&FlagVerbose == 0 || flags&FlagDotAll == 0 {
		t.Errorf("flags = %v", flags)
	}
	if got := flags.String(); got != "IGNORECASE|DOTALL|VERBOSE" {
		t.Errorf("serialised = %q", got)
	}

	if _, err := ParseFlags("BOGUS"); err == nil {
		t.Error("unknown flag should fail")
	}
	if flags, err := ParseFlags(""); err != nil || flags != 0 {
		t.Errorf("empty flags = %v, %v", flags, err)
	}
}

func TestDesugarVerbose(t *testing.T) {
	expr := `error:   \s+  # the prefix
v6 [ ]not`
	got := desugarVerbose(expr)
	if got != `error:\s+v6[ ]not` {
		t.Errorf("desugared = %q", got)
	}
}

func TestCompileFlags(t *testing.T) {
	re, err := compile("^error", FlagIgnoreCase|FlagMultiline)
	if err != nil {
		t.Fatal(err)
	}
	if !re.MatchString("ok\nERROR here") {
		t.Error("ignorecase+multiline should match")
	}

	re, err = compile("a.b", FlagDotAll)
	if err != nil {
		t.Fatal(err)
	}
	if !re.MatchString("a\nb") {
		t.Error("dotall should match across newlines")
	}
}

func TestMutationAndMatch(t *testing.T) {
	m := newTestMatcher(t)

	respID, err := m.AddResponse("server1", "v6fix", "update to the v7 build")
	if err != nil {
		t.Fatal(err)
	}
	if respID != 1 {
		t.Errorf("first response id = %d", respID)
	}
	patID, err := m.AddPattern("server1", respID, "", `error: v6 not supported`, "IGNORECASE")
	if err != nil {
		t.Fatal(err)
	}
	if patID != 1 {
		t.Errorf("first pattern id = %d", patID)
	}

	got := m.Match("server1", "FATAL ERROR: v6 not supported on this build")
	if got == nil || got.Text != "update to the v7 build" {
		t.Fatalf("match = %+v", got)
	}
	if m.Match("server1", "all good here") != nil {
		t.Error("unexpected match")
	}
}

func TestMatchFallsBackToDefault(t *testing.T) {
	m := newTestMatcher(t)
	respID, _ := m.AddResponse("default", "", "default answer")
	m.AddPattern("default", respID, "", "crash", "")

	if got := m.Match("unknown-server", "it will crash"); got == nil || got.Text != "default answer" {
		t.Errorf("default fallback = %+v", got)
	}
}

func TestServerRulesBeforeDefault(t *testing.T) {
	m := newTestMatcher(t)
	defID, _ := m.AddResponse("default", "", "default answer")
	m.AddPattern("default", defID, "", "crash", "")
	srvID, _ := m.AddResponse("server1", "", "server answer")
	m.AddPattern("server1", srvID, "", "crash", "")

	if got := m.Match("server1", "crash"); got == nil || got.Text != "server answer" {
		t.Errorf("server rules should win: %+v", got)
	}
}

func TestDefinitionOrderPriority(t *testing.T) {
	m := newTestMatcher(t)
	first, _ := m.AddResponse("s", "", "first")
	m.AddPattern("s", first, "", "both", "")
	second, _ := m.AddResponse("s", "", "second")
	m.AddPattern("s", second, "", "both", "")

	if got := m.Match("s", "both apply"); got == nil || got.Text != "first" {
		t.Errorf("definition order should decide: %+v", got)
	}
}

func TestMonotonicIDsSurviveRemoval(t *testing.T) {
	m := newTestMatcher(t)
	a, _ := m.AddResponse("s", "", "a")
	b, _ := m.AddResponse("s", "", "b")
	if err := m.RemoveResponse("s", b); err != nil {
		t.Fatal(err)
	}
	c, _ := m.AddResponse("s", "", "c")
	if c <= a {
		t.Errorf("ids should keep increasing: a=%d c=%d", a, c)
	}
}

func TestAddPatternRejectsBadRegex(t *testing.T) {
	m := newTestMatcher(t)
	respID, _ := m.AddResponse("s", "", "x")
	if _, err := m.AddPattern("s", respID, "", "(unclosed", ""); err == nil {
		t.Error("invalid regex should be rejected")
	}
}

func TestReloadDropsUncompilableResponses(t *testing.T) {
	files := storage.NewFileStore(t.TempDir())
	book := rulebookFile{Servers: map[string][]*Response{
		"s": {
			{ID: 1, Text: "broken", Patterns: []Pattern{{ID: 1, Expr: "(bad"}}},
			{ID: 2, Text: "fine", Patterns: []Pattern{{ID: 2, Expr: "good"}}},
		},
	}}
	if err := files.WriteJSON("patterns.json", &book); err != nil {
		t.Fatal(err)
	}
	m, err := NewMatcher(files, "patterns.json")
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Responses("s"); len(got) != 1 || got[0].Text != "fine" {
		t.Errorf("responses = %+v", got)
	}
}

func TestRemovePattern(t *testing.T) {
	m := newTestMatcher(t)
	respID, _ := m.AddResponse("s", "", "x")
	patID, _ := m.AddPattern("s", respID, "", "alpha", "")
	m.AddPattern("s", respID, "", "beta", "")

	if err := m.RemovePattern("s", respID, patID); err != nil {
		t.Fatal(err)
	}
	if m.Match("s", "alpha") != nil {
		t.Error("removed pattern should not match")
	}
	if m.Match("s", "beta") == nil {
		t.Error("remaining pattern should match")
	}
}
