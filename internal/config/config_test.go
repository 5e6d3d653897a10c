package config

import (
	"os"
	"path/filepath"
	"testing"
)

func load(t *testing.T, body string) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestStringListAcceptsBothForms(t *testing.T) {
	cfg := load(t, `{"greetings": {"a": "single", "b": ["one", "two"]}}`)
	if got, ok := cfg.Greetings.Match("a"); !ok || len(got) != 1 || got[0] != "single" {
		t.Errorf("string form = %q, %v", got, ok)
	}
	if got, ok := cfg.Greetings.Match("b"); !ok || len(got) != 2 {
		t.Errorf("array form = %q, %v", got, ok)
	}
}

func TestGreetingsKeepFileOrder(t *testing.T) {
	cfg := load(t, `{"greetings": {"好": ["first"], "你好": ["second"], "^$": ["empty"]}}`)
	// Both keywords occur; the one listed first must win.
	if got, _ := cfg.Greetings.Match("你好"); len(got) != 1 || got[0] != "first" {
		t.Errorf("Match = %q", got)
	}
	if got, ok := cfg.Greetings.Fallback(); !ok || got[0] != "empty" {
		t.Errorf("Fallback = %q, %v", got, ok)
	}
}

func TestGreetingsNoMatch(t *testing.T) {
	cfg := load(t, `{"greetings": {"你好": ["hi"]}}`)
	if _, ok := cfg.Greetings.Match("G1234"); ok {
		t.Error("unrelated text matched a keyword")
	}
	if _, ok := cfg.Greetings.Fallback(); ok {
		t.Error("fallback present without ^$ rule")
	}
}

func TestWikiSitesKeepFileOrder(t *testing.T) {
	cfg := load(t, `{"wiki_sites": {
		"zh.wikipedia.org": "[一-鿿]",
		"en.wikipedia.org": "[A-Za-z]"
	}}`)
	if len(cfg.WikiSites) != 2 {
		t.Fatalf("sites = %+v", cfg.WikiSites)
	}
	if cfg.WikiSites[0].Host != "zh.wikipedia.org" {
		t.Errorf("first site = %q", cfg.WikiSites[0].Host)
	}
	if cfg.WikiSites[1].ScriptPattern != "[A-Za-z]" {
		t.Errorf("second pattern = %q", cfg.WikiSites[1].ScriptPattern)
	}
}

func TestTitleInversion(t *testing.T) {
	cfg := load(t, `{"titles": {"局长": 42, "处长": 43}}`)
	if got := cfg.Title(42); got != "局长" {
		t.Errorf("Title(42) = %q", got)
	}
	if got := cfg.Title(1); got != "" {
		t.Errorf("Title(1) = %q", got)
	}
}

func TestAdminAndBlacklistSets(t *testing.T) {
	cfg := load(t, `{"administrators": [1, 2], "black_list": [3]}`)
	if !cfg.IsAdmin(1) || cfg.IsAdmin(3) {
		t.Error("admin set wrong")
	}
	if !cfg.IsBlacklisted(3) || cfg.IsBlacklisted(1) {
		t.Error("blacklist set wrong")
	}
}

func TestMaxQueriesDefault(t *testing.T) {
	if got := load(t, `{}`).MaxQueries; got != 10 {
		t.Errorf("MaxQueries = %d", got)
	}
	if got := load(t, `{"max_queries": 5}`).MaxQueries; got != 5 {
		t.Errorf("MaxQueries = %d", got)
	}
}

func TestEmptyPatternsNeverMatch(t *testing.T) {
	cfg := load(t, `{}`)
	for name, re := range map[string]interface{ MatchString(string) bool }{
		"stop words": cfg.StopWordsRe(),
		"bad words":  cfg.BadWordsRe(),
		"self":       cfg.SelfRe(),
	} {
		if re.MatchString("anything at all") {
			t.Errorf("%s: empty pattern matched", name)
		}
	}
}

func TestBadPatternFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"stop_words": "["}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("invalid regexp should fail to load")
	}
}
