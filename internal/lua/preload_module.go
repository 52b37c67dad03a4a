package lua

import (
	"net/http"

	"github.com/cjoudrey/gluahttp"
	lua "github.com/yuin/gopher-lua"
	json "layeh.com/gopher-json"
)

// HTTPModule makes require("http") return gluahttp bound to client.
type HTTPModule struct {
	client *http.Client
}

func NewHTTPModule(client *http.Client) *HTTPModule {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPModule{client: client}
}

func (h *HTTPModule) Name() string {
	return "http"
}

func (h *HTTPModule) Register(L *lua.LState) error {
	L.PreloadModule(h.Name(), gluahttp.NewHttpModule(h.client).Loader)
	return nil
}

// JSONModule makes require("json") return json.encode/json.decode.
type JSONModule struct{}

func NewJSONModule() *JSONModule {
	return &JSONModule{}
}

func (j *JSONModule) Name() string {
	return "json"
}

func (j *JSONModule) Register(L *lua.LState) error {
	json.Preload(L)
	return nil
}
