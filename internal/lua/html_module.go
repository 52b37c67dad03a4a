package lua

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	lua "github.com/yuin/gopher-lua"
)

const luaSelectionTypeName = "html_selection"

// HTMLModule exposes goquery to scripts:
//
//	local doc = html.parse(body)
//	for _, el in ipairs(html.select(doc, "li.comment")) do
//	  local text = html.text(el)
//	end
type HTMLModule struct{}

func NewHTMLModule() *HTMLModule {
	return &HTMLModule{}
}

func (h *HTMLModule) Name() string {
	return "html"
}

func (h *HTMLModule) Register(L *lua.LState) error {
	funcs := map[string]lua.LGFunction{
		"parse":      h.htmlParse,
		"select":     h.htmlSelect,
		"select_one": h.htmlSelectOne,
		"text":       h.htmlText,
		"attr":       h.htmlAttr,
		"html":       h.htmlHTML,
	}

	// Methods mirror the table functions, so doc:select("a") also works.
	mt := L.NewTypeMetatable(luaSelectionTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), funcs))

	L.SetGlobal(h.Name(), L.SetFuncs(L.NewTable(), funcs))
	return nil
}

func pushSelection(L *lua.LState, s *goquery.Selection) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = s
	L.SetMetatable(ud, L.GetTypeMetatable(luaSelectionTypeName))
	return ud
}

func checkSelection(L *lua.LState, n int) *goquery.Selection {
	ud := L.CheckUserData(n)
	s, ok := ud.Value.(*goquery.Selection)
	if !ok {
		L.ArgError(n, "expected html document or element")
		return nil
	}
	return s
}

func (h *HTMLModule) htmlParse(L *lua.LState) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(L.CheckString(1)))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(fmt.Sprintf("failed to parse HTML: %s", err.Error())))
		return 2
	}

	L.Push(pushSelection(L, doc.Selection))
	return 1
}

func (h *HTMLModule) htmlSelect(L *lua.LState) int {
	selection := checkSelection(L, 1)
	selector := L.CheckString(2)

	elements := L.NewTable()
	selection.Find(selector).Each(func(_ int, s *goquery.Selection) {
		elements.Append(pushSelection(L, s))
	})

	L.Push(elements)
	return 1
}

func (h *HTMLModule) htmlSelectOne(L *lua.LState) int {
	found := checkSelection(L, 1).Find(L.CheckString(2)).First()
	if found.Length() == 0 {
		L.Push(lua.LNil)
		return 1
	}

	L.Push(pushSelection(L, found))
	return 1
}

func (h *HTMLModule) htmlText(L *lua.LState) int {
	L.Push(lua.LString(strings.TrimSpace(checkSelection(L, 1).Text())))
	return 1
}

func (h *HTMLModule) htmlAttr(L *lua.LState) int {
	value, exists := checkSelection(L, 1).Attr(L.CheckString(2))
	if !exists {
		L.Push(lua.LNil)
		return 1
	}

	L.Push(lua.LString(value))
	return 1
}

func (h *HTMLModule) htmlHTML(L *lua.LState) int {
	content, err := checkSelection(L, 1).Html()
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(fmt.Sprintf("failed to get HTML: %s", err.Error())))
		return 2
	}

	L.Push(lua.LString(content))
	return 1
}
