package lua

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Loader resolves require names to script source.
type Loader interface {
	Load(identifier string) (string, error)
}

// scriptPath maps a require name such as "lib.util" to "lib/util.lua".
func scriptPath(identifier string) string {
	name := strings.TrimSuffix(identifier, ".lua")
	return strings.ReplaceAll(name, ".", "/") + ".lua"
}

// FSLoader reads scripts from an fs.FS, typically the embedded bundle.
type FSLoader struct {
	fsys fs.FS
	root string
}

func NewFSLoader(fsys fs.FS, root string) *FSLoader {
	return &FSLoader{fsys: fsys, root: root}
}

func (e *FSLoader) Load(identifier string) (string, error) {
	data, err := fs.ReadFile(e.fsys, path.Join(e.root, scriptPath(identifier)))
	if err != nil {
		return "", fmt.Errorf("failed to load bundled script %s: %w", identifier, err)
	}
	return string(data), nil
}

// DirLoader reads scripts below dir and refuses names that climb out of it.
type DirLoader struct {
	dir string
}

func NewDirLoader(dir string) *DirLoader {
	return &DirLoader{dir: filepath.Clean(dir)}
}

func (d *DirLoader) Load(identifier string) (string, error) {
	p := filepath.Join(d.dir, filepath.FromSlash(scriptPath(identifier)))

	rel, err := filepath.Rel(d.dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("script %s is outside %s", identifier, d.dir)
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("failed to load script %s: %w", identifier, err)
	}
	return string(data), nil
}

// SetupRequire replaces require so that preloaded modules resolve as usual
// and anything else comes from loader. Loaded scripts are cached in
// package.loaded like the builtin does.
func SetupRequire(L *lua.LState, loader Loader) {
	builtin := L.GetGlobal("require")

	L.SetGlobal("require", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		pkg := L.GetGlobal("package")

		if preload, ok := L.GetField(pkg, "preload").(*lua.LTable); ok && preload.RawGetString(name) != lua.LNil {
			L.Push(builtin)
			L.Push(lua.LString(name))
			L.Call(1, 1)
			return 1
		}

		loaded, _ := L.GetField(pkg, "loaded").(*lua.LTable)
		if loaded != nil {
			if mod := loaded.RawGetString(name); mod != lua.LNil {
				L.Push(mod)
				return 1
			}
		}

		src, err := loader.Load(name)
		if err != nil {
			L.RaiseError("failed to require module %s: %s", name, err.Error())
			return 0
		}

		fn, err := L.LoadString(src)
		if err != nil {
			L.RaiseError("failed to load module %s: %s", name, err.Error())
			return 0
		}

		L.Push(fn)
		L.Call(0, 1)
		mod := L.Get(-1)
		if mod == lua.LNil {
			L.Pop(1)
			mod = lua.LTrue
			L.Push(mod)
		}
		if loaded != nil {
			loaded.RawSetString(name, mod)
		}
		return 1
	}))
}
