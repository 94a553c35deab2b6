package scenario

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// builtinScenarios embeds the example scenarios shipped with the binary.
//
//go:embed builtin/*.yaml
var builtinScenarios embed.FS

// BuiltinNames lists the embedded scenarios, sorted.
func BuiltinNames() []string {
	entries, err := fs.ReadDir(builtinScenarios, "builtin")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".yaml") {
			names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
		}
	}
	sort.Strings(names)
	return names
}

// Builtin parses the embedded scenario called name.
func Builtin(name string) (*Scenario, error) {
	// Use path.Join (not filepath.Join) for embedded filesystems which always use forward slashes
	data, err := fs.ReadFile(builtinScenarios, path.Join("builtin", name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("unknown builtin scenario %q (have %s)", name, strings.Join(BuiltinNames(), ", "))
	}
	return Parse(data)
}
