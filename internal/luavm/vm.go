// Package luavm runs scripts from the synced script table on an
// embedded Lua interpreter.
package luavm

import (
	"fmt"
	"log/slog"

	"github.com/Shopify/go-lua"
)

// ScriptSource resolves a module name to its source.
type ScriptSource interface {
	Bytes(name string) []byte
}

// VM is a Lua state whose require resolves modules from a ScriptSource
// ahead of the filesystem. A VM is not safe for concurrent use.
type VM struct {
	state   *lua.State
	scripts ScriptSource
	logger  *slog.Logger
}

// New creates a VM with the standard libraries and a "bundlesync"
// table exposing log helpers to scripts.
func New(scripts ScriptSource, logger *slog.Logger) *VM {
	if logger == nil {
		logger = slog.Default()
	}
	vm := &VM{state: lua.NewState(), scripts: scripts, logger: logger}
	lua.OpenLibraries(vm.state)
	vm.installSearcher()

	vm.state.NewTable()
	lua.SetFunctions(vm.state, []lua.RegistryFunction{
		{Name: "log", Function: vm.luaLog},
		{Name: "warn", Function: vm.luaWarn},
	}, 0)
	vm.state.SetGlobal("bundlesync")
	return vm
}

// installSearcher inserts the script table searcher at position 2 of
// package.searchers, after the preload searcher.
func (vm *VM) installSearcher() {
	l := vm.state
	top := l.Top()
	defer l.SetTop(top)

	l.Global("package")
	l.Field(-1, "searchers")
	n := l.RawLength(-1)
	for i := n; i >= 2; i-- {
		l.RawGetInt(-1, i)
		l.RawSetInt(-2, i+1)
	}
	l.PushGoFunction(vm.searcher)
	l.RawSetInt(-2, 2)
}

func (vm *VM) searcher(l *lua.State) int {
	name := lua.CheckString(l, 1)
	if vm.scripts == nil {
		l.PushString("\n\tno script table")
		return 1
	}
	src := vm.scripts.Bytes(name)
	if src == nil {
		l.PushString(fmt.Sprintf("\n\tno script '%s' in script table", name))
		return 1
	}
	if err := lua.LoadBuffer(l, string(src), "@"+name, ""); err != nil {
		lua.Errorf(l, "error loading script '%s': %s", name, err.Error())
	}
	l.PushString(name)
	return 2
}

func (vm *VM) luaLog(l *lua.State) int {
	vm.logger.Info("script log", "message", lua.CheckString(l, 1))
	return 0
}

func (vm *VM) luaWarn(l *lua.State) int {
	vm.logger.Warn("script warning", "message", lua.CheckString(l, 1))
	return 0
}

// Require loads module as require would, running it on first use.
func (vm *VM) Require(module string) error {
	l := vm.state
	top := l.Top()
	defer l.SetTop(top)

	l.Global("require")
	l.PushString(module)
	if err := l.ProtectedCall(1, 1, 0); err != nil {
		return fmt.Errorf("require %s: %w", module, err)
	}
	return nil
}

// RunString executes a chunk of Lua source.
func (vm *VM) RunString(src string) error {
	l := vm.state
	top := l.Top()
	defer l.SetTop(top)

	if err := lua.LoadString(l, src); err != nil {
		return fmt.Errorf("load lua: %w", err)
	}
	if err := l.ProtectedCall(0, 0, 0); err != nil {
		return fmt.Errorf("run lua: %w", err)
	}
	return nil
}

// GlobalString returns the global name if it holds a string or number.
func (vm *VM) GlobalString(name string) (string, bool) {
	l := vm.state
	l.Global(name)
	defer l.Pop(1)
	return l.ToString(-1)
}
