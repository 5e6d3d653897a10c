// Package config loads the static bot configuration. Mutable runtime
// state (muted groups, the rate limiter bucket) lives in the state
// package instead; everything here is read-only after Load.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"railbot/internal/kb"
)

// StringList accepts either a JSON string or an array of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	}
	var ss []string
	if err := json.Unmarshal(data, &ss); err != nil {
		return err
	}
	*l = StringList(ss)
	return nil
}

// Greetings maps keyword patterns to response variants. The file order
// of the keys is significant (the first matching keyword wins), so the
// JSON object is decoded with a token stream instead of a map.
type Greetings struct {
	rules []greetingRule
}

type greetingRule struct {
	raw       string
	keyword   *regexp.Regexp
	responses StringList
}

func (g *Greetings) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("greetings: unexpected token %v", tok)
		}
		re, err := regexp.Compile(key)
		if err != nil {
			return fmt.Errorf("greetings: keyword %q: %w", key, err)
		}
		var responses StringList
		if err := dec.Decode(&responses); err != nil {
			return fmt.Errorf("greetings: responses for %q: %w", key, err)
		}
		g.rules = append(g.rules, greetingRule{raw: key, keyword: re, responses: responses})
	}
	return nil
}

// Match returns the response variants of the first rule whose keyword
// occurs in the text.
func (g *Greetings) Match(text string) (StringList, bool) {
	for _, r := range g.rules {
		if r.keyword.MatchString(text) {
			return r.responses, true
		}
	}
	return nil, false
}

// Fallback returns the variants of the empty-pattern rule, used when no
// keyword matched but the bot still owes a reply.
func (g *Greetings) Fallback() (StringList, bool) {
	for _, r := range g.rules {
		if r.raw == "^$" {
			return r.responses, true
		}
	}
	return nil, false
}

// WikiSite is one encyclopedia endpoint: a hostname plus the
// writing-script pattern a query must match to be worth sending there.
type WikiSite struct {
	Host          string
	ScriptPattern string
}

// WikiSites keeps the configured sites in file order, because the first
// site that finds an article wins.
type WikiSites []WikiSite

func (w *WikiSites) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		host, ok := tok.(string)
		if !ok {
			return fmt.Errorf("wiki_sites: unexpected token %v", tok)
		}
		var pattern string
		if err := dec.Decode(&pattern); err != nil {
			return fmt.Errorf("wiki_sites: pattern for %q: %w", host, err)
		}
		*w = append(*w, WikiSite{Host: host, ScriptPattern: pattern})
	}
	return nil
}

// BasicAuth is an HTTP basic auth credential pair.
type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Config is the bot configuration file. The knowledge-base snapshot
// paths live at the top level of the same file.
type Config struct {
	Administrators []int64               `json:"administrators"`
	BlackList      []int64               `json:"black_list"`
	DisabledGroups []int64               `json:"disabled_groups"`
	Titles         map[string]int64      `json:"titles"`
	Greetings      Greetings             `json:"greetings"`
	StopWords      string                `json:"stop_words"`
	BadWords       string                `json:"bad_words"`
	SelfNames      string                `json:"self"`
	MaxQueries     int                   `json:"max_queries"`
	WikiSites      WikiSites             `json:"wiki_sites"`
	FlightAware    *BasicAuth            `json:"flight_aware_auth"`

	kb.Paths

	stopWordsRe *regexp.Regexp
	badWordsRe  *regexp.Regexp
	selfRe      *regexp.Regexp
	admins      map[int64]bool
	blacklist   map[int64]bool
	titleByUser map[int64]string
}

// Load reads and compiles the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) compile() error {
	var err error
	if c.stopWordsRe, err = compileOr(c.StopWords, `$^`); err != nil {
		return fmt.Errorf("stop_words: %w", err)
	}
	if c.badWordsRe, err = compileOr(c.BadWords, `$^`); err != nil {
		return fmt.Errorf("bad_words: %w", err)
	}
	if c.selfRe, err = compileOr(c.SelfNames, `$^`); err != nil {
		return fmt.Errorf("self: %w", err)
	}
	if c.MaxQueries == 0 {
		c.MaxQueries = 10
	}
	c.admins = toSet(c.Administrators)
	c.blacklist = toSet(c.BlackList)
	// The file maps titles to user ids; lookups go the other way.
	c.titleByUser = make(map[int64]string, len(c.Titles))
	for title, user := range c.Titles {
		c.titleByUser[user] = title
	}
	return nil
}

func compileOr(pattern, fallback string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = fallback
	}
	return regexp.Compile(pattern)
}

func toSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// IsAdmin reports whether a user is a bot administrator.
func (c *Config) IsAdmin(user int64) bool { return c.admins[user] }

// IsBlacklisted reports whether a user is on the blacklist.
func (c *Config) IsBlacklisted(user int64) bool { return c.blacklist[user] }

// Title returns the configured honorific for a user, if any.
func (c *Config) Title(user int64) string { return c.titleByUser[user] }

// StopWordsRe matches messages the bot must silently ignore.
func (c *Config) StopWordsRe() *regexp.Regexp { return c.stopWordsRe }

// BadWordsRe matches abusive content.
func (c *Config) BadWordsRe() *regexp.Regexp { return c.badWordsRe }

// SelfRe matches the bot's nicknames in message text.
func (c *Config) SelfRe() *regexp.Regexp { return c.selfRe }
