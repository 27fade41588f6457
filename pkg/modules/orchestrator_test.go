package modules

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freitascorp/andromeda/pkg/hosterror"
	"github.com/freitascorp/andromeda/pkg/jsagent/jsagenttest"
)

// memoryLoader is a fake ModuleLoader backing an in-memory map of
// specifier -> source, used so orchestrator tests don't touch disk.
type memoryLoader struct {
	files map[string]string
}

func newMemoryLoader(files map[string]string) *memoryLoader {
	return &memoryLoader{files: files}
}

func (m *memoryLoader) ResolveSpecifier(specifier, base string) (string, error) {
	if _, ok := m.files[specifier]; !ok {
		return "", hosterror.Newf(hosterror.KindModuleNotFound, "no such module %q", specifier)
	}
	return specifier, nil
}

func (m *memoryLoader) LoadModule(resolved string) (string, error) {
	src, ok := m.files[resolved]
	if !ok {
		return "", hosterror.Newf(hosterror.KindModuleNotFound, "no such module %q", resolved)
	}
	return src, nil
}

func (m *memoryLoader) ModuleExists(resolved string) bool {
	_, ok := m.files[resolved]
	return ok
}

func (m *memoryLoader) SupportedExtensions() []string { return []string{"js"} }

func TestLoader_DependencyTopologicalOrder(t *testing.T) {
	files := map[string]string{
		"a.js": `export const value = 1;`,
		"b.js": `import { value } from "a.js";`,
		"c.js": `import { value } from "b.js";`,
	}
	loader := NewLoader(newMemoryLoader(files), jsagenttest.New())

	id, err := loader.LoadModule("c.js", "")
	require.NoError(t, err)

	rec, ok := loader.GetModule(id)
	require.True(t, ok)
	require.Equal(t, StateInstantiating, rec.State)
	require.Len(t, rec.Dependencies, 1)

	order, err := loader.GetDependencyOrder()
	require.NoError(t, err)
	require.Len(t, order, 3)

	indexOf := func(specifier string) int {
		for i, mid := range order {
			rec, _ := loader.GetModule(mid)
			if rec.Specifier == specifier {
				return i
			}
		}
		return -1
	}
	require.Less(t, indexOf("a.js"), indexOf("b.js"))
	require.Less(t, indexOf("b.js"), indexOf("c.js"))
}

func TestLoader_CircularImport(t *testing.T) {
	files := map[string]string{
		"a.js": `import "b.js";`,
		"b.js": `import "a.js";`,
	}
	loader := NewLoader(newMemoryLoader(files), jsagenttest.New())

	_, err := loader.LoadModule("a.js", "")
	require.Error(t, err)
	require.True(t, hosterror.Is(err, hosterror.KindCircularImport))
}

func TestLoader_ModuleNotFound(t *testing.T) {
	loader := NewLoader(newMemoryLoader(map[string]string{}), jsagenttest.New())
	_, err := loader.LoadModule("missing.js", "")
	require.Error(t, err)
	require.True(t, hosterror.Is(err, hosterror.KindModuleNotFound))
}

func TestLoader_FailedLoadIsCachedAndReproducible(t *testing.T) {
	files := map[string]string{"a.js": `import "missing.js";`}
	loader := NewLoader(newMemoryLoader(files), jsagenttest.New())

	_, err1 := loader.LoadModule("a.js", "")
	require.Error(t, err1)

	_, err2 := loader.LoadModule("a.js", "")
	require.Error(t, err2)
	require.Equal(t, err1.Error(), err2.Error())
}

func TestLoader_JSONModuleSynthesizesDefaultExport(t *testing.T) {
	files := map[string]string{"data.json": `{"x": 1}`}
	loader := NewLoader(newMemoryLoader(files), jsagenttest.New())

	id, err := loader.LoadModule("data.json", "")
	require.NoError(t, err)
	rec, _ := loader.GetModule(id)
	require.Equal(t, TypeJSON, rec.ModuleType)
	require.Len(t, rec.Exports, 1)
	require.Nil(t, rec.Exports[0].Name)
}

func TestLoader_ClearCache(t *testing.T) {
	files := map[string]string{"a.js": `export const value = 1;`}
	loader := NewLoader(newMemoryLoader(files), jsagenttest.New())

	id1, err := loader.LoadModule("a.js", "")
	require.NoError(t, err)

	loader.ClearCache()
	_, ok := loader.GetModule(id1)
	require.False(t, ok)

	id2, err := loader.LoadModule("a.js", "")
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
}

func TestLoader_Snapshot(t *testing.T) {
	files := map[string]string{"a.js": `export const value = 1;`}
	loader := NewLoader(newMemoryLoader(files), jsagenttest.New())
	_, err := loader.LoadModule("a.js", "")
	require.NoError(t, err)

	snap := loader.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "a.js", snap[0].Specifier)
}
