// Package kb holds the in-memory knowledge tables the filters consult:
// the trainnets directory, EMU model tables, passenger routes, CR-Express
// records, the aircraft/airport directory, and the two tables learned at
// runtime (known unit serials and last freight sightings).
package kb

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"sync"
)

// TrainnetEntry is one trainnets directory record: a reference URL (or an
// explanatory sentinel) plus the introduction text it was extracted from.
type TrainnetEntry struct {
	URL   string
	Intro string
}

// ModelPattern infers a rolling-stock model from a train number. Order
// matters: the first matching pattern wins.
type ModelPattern struct {
	Model   string
	Pattern *regexp.Regexp
}

// Route is one passenger train route.
type Route struct {
	Code  string // full train code, possibly composite ("G1234/G1235")
	Start string
	End   string
}

// Trace is the last known sighting of a freight train, as returned by the
// tracking service. Values are kept as strings for templating.
type Trace map[string]string

// KB is the process-wide knowledge base. The loaded tables are read-only
// after startup; the learned tables are guarded by a mutex because
// tracking results perform read-then-write updates.
type KB struct {
	Trainnets   map[string]TrainnetEntry
	EMUPatterns []ModelPattern
	EMUModels   map[string]string
	Routes      map[string]Route
	Express     map[string][]string
	Airports    map[string]string

	mu          sync.RWMutex
	knownModels map[string]string
	knownTraces map[string]Trace
}

// New returns an empty knowledge base.
func New() *KB {
	return &KB{
		Trainnets:   make(map[string]TrainnetEntry),
		EMUModels:   make(map[string]string),
		Routes:      make(map[string]Route),
		Express:     make(map[string][]string),
		Airports:    make(map[string]string),
		knownModels: make(map[string]string),
		knownTraces: make(map[string]Trace),
	}
}

// KnownModel returns the most recently observed serial number for a
// vehicle class code.
func (k *KB) KnownModel(class string) (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	serial, ok := k.knownModels[class]
	return serial, ok
}

// LearnModel records the serial number observed for a vehicle class.
func (k *KB) LearnModel(class, serial string) {
	if class == "" {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.knownModels[class] = serial
}

// LearnModelIfAbsent records the serial only when the class is unseen.
// Used by lookups whose serial is weaker evidence than a tracking result.
func (k *KB) LearnModelIfAbsent(class, serial string) {
	if class == "" {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.knownModels[class]; !ok {
		k.knownModels[class] = serial
	}
}

// ModelKeys returns the union of known model classes and trainnets keys,
// the universe for wildcard matching.
func (k *KB) ModelKeys() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	seen := make(map[string]bool, len(k.knownModels)+len(k.Trainnets))
	keys := make([]string, 0, len(k.knownModels)+len(k.Trainnets))
	for key := range k.knownModels {
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	for key := range k.Trainnets {
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// KnownTrace returns the last recorded sighting of a freight train.
func (k *KB) KnownTrace(train string) (Trace, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	trace, ok := k.knownTraces[train]
	return trace, ok
}

// LearnTrace overwrites the last known sighting of a freight train.
func (k *KB) LearnTrace(train string, trace Trace) {
	if train == "" {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.knownTraces[train] = trace
}

// GetModel returns the rolling-stock description for a train code: an
// exact EMU assignment if recorded, otherwise the first matching EMU
// pattern. Returns "" when nothing is known.
func (k *KB) GetModel(train string) string {
	if model, ok := k.EMUModels[train]; ok {
		return fmt.Sprintf("列车使用的动车组型号是%s交路信息详见 https://moerail.ml/#%s。", model, train)
	}
	for _, mp := range k.EMUPatterns {
		if loc := mp.Pattern.FindStringIndex(train); loc != nil && loc[0] == 0 {
			return fmt.Sprintf("列车使用的动车组型号是%s。", mp.Model)
		}
	}
	return ""
}

// LookupRoute resolves a train code (or a sub-code of a composite train
// code) to its route.
func (k *KB) LookupRoute(code string) (Route, bool) {
	r, ok := k.Routes[code]
	return r, ok
}

// SaveSnapshots writes the learned tables back to disk as JSON.
func (k *KB) SaveSnapshots(serialPath, tracesPath string) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if err := writeJSON(serialPath, k.knownModels); err != nil {
		return fmt.Errorf("save known models: %w", err)
	}
	if err := writeJSON(tracesPath, k.knownTraces); err != nil {
		return fmt.Errorf("save known traces: %w", err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	if path == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
