//go:build js && wasm

// Package jsview はブラウザーの DOM を authform.View として扱います。
package jsview

import (
	"syscall/js"

	"github.com/yourusername/mealplanner/internal/authform"
)

const submitSelector = `button[type="submit"], input[type="submit"]`

// View は document と window を操作する authform.View の実装です。
type View struct {
	document js.Value
	window   js.Value
}

var _ authform.View = (*View)(nil)

// New は現在のページを対象とする View を返します。
func New() *View {
	return &View{
		document: js.Global().Get("document"),
		window:   js.Global().Get("window"),
	}
}

func (v *View) element(id string) (js.Value, bool) {
	el := v.document.Call("getElementById", id)
	if el.IsNull() || el.IsUndefined() {
		return js.Value{}, false
	}
	return el, true
}

func (v *View) FieldValue(id string) string {
	el, ok := v.element(id)
	if !ok {
		return ""
	}
	value := el.Get("value")
	if value.Type() != js.TypeString {
		return ""
	}
	return value.String()
}

func (v *View) ShowAlert(id, text string) {
	el, ok := v.element(id)
	if !ok {
		return
	}
	el.Set("textContent", text)
	el.Call("removeAttribute", "hidden")
}

func (v *View) Navigate(url string) {
	v.window.Get("location").Set("href", url)
}

func (v *View) SetBusy(formID string, busy bool) {
	form, ok := v.element(formID)
	if !ok {
		return
	}
	buttons := form.Call("querySelectorAll", submitSelector)
	for i := 0; i < buttons.Length(); i++ {
		buttons.Index(i).Set("disabled", busy)
	}
}

// Event は DOM の submit イベントです。
type Event struct {
	value js.Value
}

var _ authform.Event = Event{}

// NewEvent は js.Value をイベントとして包みます。
func NewEvent(v js.Value) Event {
	return Event{value: v}
}

func (e Event) PreventDefault() {
	if e.value.Truthy() {
		e.value.Call("preventDefault")
	}
}
