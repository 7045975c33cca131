package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// module is one named Rego source.
type module struct {
	name string
	src  string
}

func builtinModules() []module {
	return []module{{name: "default.rego", src: defaultPolicy}}
}

// readBundle returns the policy modules in dir sorted by file name so that
// compilation order does not depend on the filesystem. Rego unit tests
// (*_test.rego) are not part of the device policy.
func readBundle(dir string) ([]module, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("policy bundle %s is not a directory", dir)
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	mods := make([]module, 0, len(paths))
	for _, path := range paths {
		name := filepath.Base(path)
		if strings.HasSuffix(name, "_test.rego") {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read policy %s: %w", name, err)
		}
		mods = append(mods, module{name: name, src: string(data)})
	}
	return mods, nil
}

func sortedModules(sources map[string]string) []module {
	mods := make([]module, 0, len(sources))
	for name, src := range sources {
		mods = append(mods, module{name: name, src: src})
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].name < mods[j].name })
	return mods
}
