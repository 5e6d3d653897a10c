package kb

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"

	"railbot/internal/category"
	"railbot/internal/extract"
)

// Paths names the snapshot files the knowledge base is loaded from.
// Empty entries are skipped.
type Paths struct {
	Airports    string `json:"airports_json"`
	KnownModels string `json:"serial_json"`
	KnownTraces string `json:"traces_json"`
	EMUPatterns string `json:"emu_json"`
	EMUModels   string `json:"emu_text"`
	Trainnets   string `json:"trainnets_text"`
	Ranges      string `json:"trains_text"`
	Routes      string `json:"trains_json"`
	Express     string `json:"express_json"`
}

// Load builds the knowledge base from the snapshot files. The learned
// tables (known models, known traces) tolerate missing files; everything
// else is optional too but logs what it skipped.
func Load(p Paths) (*KB, []category.Range, error) {
	k := New()

	if err := loadJSONFile(p.Airports, &k.Airports); err != nil {
		return nil, nil, fmt.Errorf("airports: %w", err)
	}
	if err := loadJSONFile(p.KnownModels, &k.knownModels); err != nil {
		return nil, nil, fmt.Errorf("known models: %w", err)
	}
	if err := loadJSONFile(p.KnownTraces, &k.knownTraces); err != nil {
		return nil, nil, fmt.Errorf("known traces: %w", err)
	}

	if p.EMUPatterns != "" {
		patterns, err := loadEMUPatterns(p.EMUPatterns)
		if err != nil {
			return nil, nil, fmt.Errorf("emu patterns: %w", err)
		}
		k.EMUPatterns = patterns
	}
	if p.EMUModels != "" {
		if err := loadLines(p.EMUModels, func(line string) {
			code, _, model := cutSpace(line)
			if code != "" && model != "" {
				k.EMUModels[code] = model
			}
		}); err != nil {
			return nil, nil, fmt.Errorf("emu models: %w", err)
		}
	}
	if p.Trainnets != "" {
		lines, err := readLines(p.Trainnets)
		if err != nil {
			return nil, nil, fmt.Errorf("trainnets: %w", err)
		}
		k.Trainnets = ParseTrainnets(lines)
	}
	if p.Routes != "" {
		if err := loadRoutes(p.Routes, k); err != nil {
			return nil, nil, fmt.Errorf("routes: %w", err)
		}
	}
	if p.Express != "" {
		if err := loadExpress(p.Express, k); err != nil {
			return nil, nil, fmt.Errorf("express: %w", err)
		}
	}

	var ranges []category.Range
	if p.Ranges != "" {
		lines, err := readLines(p.Ranges)
		if err != nil {
			return nil, nil, fmt.Errorf("ranges: %w", err)
		}
		ranges, err = category.ParseRanges(lines)
		if err != nil {
			return nil, nil, fmt.Errorf("ranges: %w", err)
		}
	}
	return k, ranges, nil
}

// loadJSONFile decodes a JSON file into dst. Missing files leave dst
// untouched so the caller keeps its empty default.
func loadJSONFile(path string, dst any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return strings.Split(string(data), "\n"), nil
}

func loadLines(path string, fn func(line string)) error {
	lines, err := readLines(path)
	if err != nil {
		return err
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			fn(line)
		}
	}
	return nil
}

func cutSpace(line string) (before, sep, after string) {
	before, after, found := strings.Cut(line, " ")
	if !found {
		return line, "", ""
	}
	return before, " ", strings.TrimSpace(after)
}

// ParseTrainnets extracts identifiers from each trainnets description
// line ("<url> <introduction>"). The first line to mention an identifier
// owns it; collisions on a line's primary identifier are logged rather
// than merged.
func ParseTrainnets(lines []string) map[string]TrainnetEntry {
	trainnets := make(map[string]TrainnetEntry)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		url, _, intro := cutSpace(line)
		ids := identifiersOf(intro)
		if len(ids) == 0 {
			log.Printf("trainnets: no identifiers in %.30s", intro)
			continue
		}
		for extra, id := range ids {
			if _, taken := trainnets[id]; !taken {
				trainnets[id] = TrainnetEntry{URL: url, Intro: intro}
			} else if extra == 0 {
				log.Printf("trainnets: duplicate %s %.30s", id, intro)
			}
		}
	}
	return trainnets
}

// identifiersOf returns the non-numeric identifiers in a description.
func identifiersOf(text string) []string {
	var out []string
	for _, id := range extract.Match(text).Keys() {
		if !isAllDigits(id) {
			out = append(out, id)
		}
	}
	return out
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// loadEMUPatterns decodes the pattern table preserving file order, which
// defines match precedence. The file is {":": {"model": "pattern", ...}}.
func loadEMUPatterns(path string) ([]ModelPattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	raw, ok := root[":"]
	if !ok {
		return nil, fmt.Errorf("missing %q key", ":")
	}
	return parseOrderedPatterns(raw)
}

// parseOrderedPatterns walks the JSON object token stream so the insertion
// order of the file survives (a plain map would scramble it).
func parseOrderedPatterns(raw json.RawMessage) ([]ModelPattern, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("pattern table is not an object")
	}
	var out []ModelPattern
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		model, _ := keyTok.(string)
		var pattern string
		if err := dec.Decode(&pattern); err != nil {
			return nil, err
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern for %s: %w", model, err)
		}
		out = append(out, ModelPattern{Model: model, Pattern: re})
	}
	return out, nil
}

// loadRoutes reads the passenger-route table: a JSON array of
// [train_no, code, start, end] records. Composite codes index every
// sub-code, reconstructed by completing each part with the shared prefix.
func loadRoutes(path string, k *KB) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var records [][]string
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	for _, rec := range records {
		if len(rec) < 4 {
			continue
		}
		route := Route{Code: rec[1], Start: rec[2], End: rec[3]}
		for _, sub := range SubCodes(route.Code) {
			k.Routes[sub] = route
		}
	}
	return nil
}

// SubCodes expands a composite train code like "G5025/8" into its full
// sub-codes ("G5025", "G5028").
func SubCodes(code string) []string {
	parts := strings.Split(code, "/")
	if len(parts) == 1 {
		return parts
	}
	first := parts[0]
	out := []string{first}
	for _, p := range parts[1:] {
		if len(p) < len(first) {
			p = first[:len(first)-len(p)] + p
		}
		out = append(out, p)
	}
	return out
}

// loadExpress reads the CR-Express table: a JSON array of positional
// records whose third field lists the train numbers served.
func loadExpress(path string, k *KB) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var records [][]string
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	for _, rec := range records {
		if len(rec) < 3 {
			continue
		}
		for _, train := range strings.Split(rec[2], "/") {
			if train != "" {
				k.Express[train] = rec
			}
		}
	}
	return nil
}
