package script

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed examples/*.lua
var examplesFS embed.FS

// ExampleNames lists the bundled example scripts in name order.
func ExampleNames() []string {
	entries, err := fs.ReadDir(examplesFS, "examples")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".lua"))
	}
	sort.Strings(names)
	return names
}

// Example returns the source of one bundled example script.
func Example(name string) (string, error) {
	data, err := examplesFS.ReadFile("examples/" + name + ".lua")
	if err != nil {
		return "", fmt.Errorf("unknown example %q (available: %s)", name, strings.Join(ExampleNames(), ", "))
	}
	return string(data), nil
}
