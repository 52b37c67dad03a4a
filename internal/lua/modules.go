package lua

import (
	"log/slog"
	"net/http"

	lua "github.com/yuin/gopher-lua"
)

// Module is a Go library made available to scripts, either as a global
// table or through require.
type Module interface {
	Name() string
	Register(L *lua.LState) error
}

// SourceModules is what a comment source script runs with.
func SourceModules(client *http.Client, logger *slog.Logger) []Module {
	return []Module{
		NewHTMLModule(),
		NewLogModule(logger),
		NewTimeModule(nil),
		NewHTTPModule(client),
		NewJSONModule(),
	}
}
