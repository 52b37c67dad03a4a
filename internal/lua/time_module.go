package lua

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

// TimeModule replaces the clock secure mode removes with os. Times are unix
// seconds:
//
//	local t, err = time.parse("2024-05-01T10:00:00Z")
//	local t, err = time.parse("Mon, 02 Jan 2006 15:04:05 -0700", value)
//	local s = time.format(time.now())
type TimeModule struct {
	now func() time.Time
}

func NewTimeModule(now func() time.Time) *TimeModule {
	if now == nil {
		now = time.Now
	}
	return &TimeModule{now: now}
}

func (t *TimeModule) Name() string {
	return "time"
}

func (t *TimeModule) Register(L *lua.LState) error {
	L.SetGlobal(t.Name(), L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"now":    t.timeNow,
		"parse":  t.timeParse,
		"format": t.timeFormat,
	}))
	return nil
}

func (t *TimeModule) timeNow(L *lua.LState) int {
	L.Push(lua.LNumber(t.now().Unix()))
	return 1
}

// timeParse takes (value) as RFC 3339 or (layout, value) with a Go layout.
func (t *TimeModule) timeParse(L *lua.LState) int {
	layout, value := time.RFC3339, L.CheckString(1)
	if L.GetTop() >= 2 {
		layout, value = value, L.CheckString(2)
	}

	parsed, err := time.Parse(layout, value)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LNumber(parsed.Unix()))
	return 1
}

func (t *TimeModule) timeFormat(L *lua.LState) int {
	secs := L.CheckNumber(1)
	layout := L.OptString(2, time.RFC3339)
	L.Push(lua.LString(time.Unix(int64(secs), 0).UTC().Format(layout)))
	return 1
}
