// Package assembly implements the release-assembly overlay: a named
// configuration variant applied on top of the group and per-component config.
// Assemblies live in the releases document of the build-data store under
// releases.<name>.assembly and may inherit from a basis assembly, forming a
// chain that is applied ancestor-first.
package assembly

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/MartinPl0/art-tools/internal/fatal"
)

// Type classifies an assembly definition.
type Type string

const (
	// TypeStream is the default continuous release; no overlay applies.
	TypeStream Type = "stream"
	// TypeStandard is a named z-stream release (e.g. 4.14.7).
	TypeStandard Type = "standard"
	// TypeCandidate is a release candidate (ec/rc) assembly.
	TypeCandidate Type = "candidate"
	// TypeCustom is a one-off build not destined for a normal release.
	TypeCustom Type = "custom"
)

// maxBasisDepth bounds basis-chain walks; a longer chain indicates a
// definition loop in releases.yml.
const maxBasisDepth = 10

var namePattern = regexp.MustCompile(`^[\w.]+$`)

// ValidateName enforces the assembly naming convention: word characters and
// dots only, no leading or trailing dot.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return fatal.Configf("assembly names may only consist of alphanumerics, ., and _, and may not start or end with a dot: %q", name)
	}
	return nil
}

// definition returns the raw assembly block for name, or nil when the
// releases config does not define it (stream behavior).
func definition(releases map[string]any, name string) map[string]any {
	if name == "" {
		return nil
	}
	all, _ := releases["releases"].(map[string]any)
	entry, _ := all[name].(map[string]any)
	def, _ := entry["assembly"].(map[string]any)
	return def
}

// TypeOf returns the assembly's declared type, defaulting to stream for
// unknown or undefined assemblies.
func TypeOf(releases map[string]any, name string) Type {
	def := definition(releases, name)
	if def == nil {
		return TypeStream
	}
	if t, ok := def["type"].(string); ok && t != "" {
		return Type(t)
	}
	return TypeStandard
}

// BasisEvent walks the basis chain for the assembly and returns the first
// explicit brew event found, or 0 when the assembly floats with the stream.
func BasisEvent(releases map[string]any, name string) (int64, error) {
	for depth := 0; depth < maxBasisDepth; depth++ {
		def := definition(releases, name)
		if def == nil {
			return 0, nil
		}
		basis, _ := def["basis"].(map[string]any)
		if basis == nil {
			return 0, nil
		}
		if event, ok := asInt64(basis["brew_event"]); ok {
			return event, nil
		}
		parent, _ := basis["assembly"].(string)
		if parent == "" {
			return 0, nil
		}
		name = parent
	}
	return 0, fatal.Configf("assembly basis chain for %q exceeds %d levels; definition loop suspected", name, maxBasisDepth)
}

// GroupConfig applies the assembly's group overlay (and those of its basis
// ancestors, ancestor-first) onto the base group configuration.
func GroupConfig(releases map[string]any, name string, group map[string]any) (map[string]any, error) {
	return overlayChain(releases, name, group, "group")
}

// StreamsConfig applies the assembly's streams overlay onto the base streams
// configuration through the same merge mechanism as GroupConfig.
func StreamsConfig(releases map[string]any, name string, streams map[string]any) (map[string]any, error) {
	return overlayChain(releases, name, streams, "streams")
}

func overlayChain(releases map[string]any, name string, base map[string]any, section string) (map[string]any, error) {
	chain, err := basisChain(releases, name)
	if err != nil {
		return nil, err
	}
	result := base
	// chain is ordered root ancestor first so nearer definitions win.
	for _, assemblyName := range chain {
		def := definition(releases, assemblyName)
		overlay, _ := def[section].(map[string]any)
		if overlay != nil {
			result = Merge(result, overlay)
		}
	}
	return result, nil
}

func basisChain(releases map[string]any, name string) ([]string, error) {
	var chain []string
	for depth := 0; depth < maxBasisDepth; depth++ {
		def := definition(releases, name)
		if def == nil {
			// Reverse into ancestor-first order.
			for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
				chain[i], chain[j] = chain[j], chain[i]
			}
			return chain, nil
		}
		chain = append(chain, name)
		basis, _ := def["basis"].(map[string]any)
		parent, _ := basis["assembly"].(string)
		if parent == "" {
			for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
				chain[i], chain[j] = chain[j], chain[i]
			}
			return chain, nil
		}
		name = parent
	}
	return nil, fatal.Configf("assembly basis chain for %q exceeds %d levels; definition loop suspected", name, maxBasisDepth)
}

// Merge overlays the assembly map onto base and returns a new map; neither
// input is mutated. Nested maps merge recursively with overlay values taking
// precedence. Lists union: base entries keep their order and overlay entries
// not already present append after them. An overlay key with a trailing "!"
// replaces the base value outright (the "!" is stripped from the result).
func Merge(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if replaced := strings.TrimSuffix(k, "!"); replaced != k {
			out[replaced] = v
			continue
		}
		existing, ok := out[k]
		if !ok {
			out[k] = v
			continue
		}
		switch ev := existing.(type) {
		case map[string]any:
			if ov, isMap := v.(map[string]any); isMap {
				out[k] = Merge(ev, ov)
				continue
			}
		case []any:
			if ov, isList := v.([]any); isList {
				out[k] = unionLists(ev, ov)
				continue
			}
		}
		out[k] = v
	}
	return out
}

func unionLists(base, overlay []any) []any {
	out := make([]any, 0, len(base)+len(overlay))
	out = append(out, base...)
	for _, item := range overlay {
		found := false
		for _, existing := range base {
			if reflect.DeepEqual(existing, item) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, item)
		}
	}
	return out
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}
