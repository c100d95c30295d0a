package annotate

import "testing"

func TestPatternMatchLiteral(t *testing.T) {
	p := Compile("/comment", '/')
	if !p.Match("/comment") {
		t.Fatalf("expected literal match")
	}
	if p.Match("/comments") {
		t.Fatalf("expected no match on extra suffix")
	}
	if p.HasWildcard() {
		t.Fatalf("literal pattern should report no wildcard")
	}
	if p.FixedPrefix() != "/comment" {
		t.Fatalf("got prefix %q", p.FixedPrefix())
	}
}

func TestPatternStarCrossesSeparator(t *testing.T) {
	p := Compile("/vendor/cmu/cyrus-imapd/*", '/')
	if !p.Match("/vendor/cmu/cyrus-imapd/expire") {
		t.Fatalf("expected match")
	}
	if !p.Match("/vendor/cmu/cyrus-imapd/a/b/c") {
		t.Fatalf("'*' should cross separators")
	}
}

func TestPatternPercentDoesNotCrossSeparator(t *testing.T) {
	p := Compile("/vendor/cmu/cyrus-imapd/%", '/')
	if !p.Match("/vendor/cmu/cyrus-imapd/expire") {
		t.Fatalf("expected match on single segment")
	}
	if p.Match("/vendor/cmu/cyrus-imapd/a/b") {
		t.Fatalf("'%%' must not cross separators")
	}
}

func TestPatternFixedPrefix(t *testing.T) {
	p := Compile("/vendor/cmu/cyrus-imapd/*", '/')
	if p.FixedPrefix() != "/vendor/cmu/cyrus-imapd/" {
		t.Fatalf("got prefix %q", p.FixedPrefix())
	}
}

func TestPatternMixedWildcards(t *testing.T) {
	p := Compile("/a%b*c", '/')
	if !p.Match("/aXbYYYc") {
		t.Fatalf("expected match")
	}
	if p.Match("/a/bYYYc") {
		t.Fatalf("'%%' in first slot must not cross separator")
	}
	if !p.Match("/abYYY/Zc") {
		t.Fatalf("'*' in second slot should cross separator")
	}
}

func TestPatternEmptyWildcardMatch(t *testing.T) {
	p := Compile("/comment*", '/')
	if !p.Match("/comment") {
		t.Fatalf("trailing '*' should allow zero-length match")
	}
}

func TestPatternBareStarMatchesEverything(t *testing.T) {
	p := Compile("*", '/')
	for _, s := range []string{"", "/a", "/a/b/c"} {
		if !p.Match(s) {
			t.Fatalf("bare '*' should match %q", s)
		}
	}
}

func TestPatternConsecutiveWildcards(t *testing.T) {
	p := Compile("/a**b", '/')
	if !p.Match("/a/x/y/b") {
		t.Fatalf("consecutive wildcards should still match across separators")
	}
}
