// Package pages はサーバー側で描画する HTML ページを提供します。
//
// フォームの送信処理は WebAssembly（cmd/web）が担当し、各ページは
// wasm_exec.js と mealplanner.wasm を読み込みます。
package pages

import (
	"github.com/chasefleming/elem-go"
	"github.com/chasefleming/elem-go/attrs"
)

const (
	wasmExecPath = "/scripts/wasm_exec.js"
	wasmPath     = "/scripts/mealplanner.wasm"
)

// Go ランタイムを起動して signIn などのグローバル関数を登録させる
const wasmLoader = `const go = new Go();
WebAssembly.instantiateStreaming(fetch("` + wasmPath + `"), go.importObject)
  .then((result) => go.run(result.instance))
  .catch((err) => console.error("failed to load form handlers", err));`

func layout(title string, children ...elem.Node) *elem.Element {
	return elem.Html(attrs.Props{
		attrs.Lang: "en",
	},
		elem.Head(nil,
			elem.Meta(attrs.Props{
				attrs.Charset: "utf-8",
			}),
			elem.Meta(attrs.Props{
				attrs.Name:    "viewport",
				attrs.Content: "width=device-width, initial-scale=1",
			}),
			elem.Title(nil, elem.Text(title+" | Meal Planner")),
			elem.Script(attrs.Props{
				attrs.Src: wasmExecPath,
			}),
			elem.Script(nil, elem.Raw(wasmLoader)),
		),
		elem.Body(nil,
			elem.Div(attrs.Props{
				attrs.Class: "container",
			}, children...),
		),
	)
}

// alert はエラー表示用の要素です。初期状態では非表示です。
func alert(id string) *elem.Element {
	return elem.Div(attrs.Props{
		"id":        id,
		"role":      "alert",
		"hidden":    "true",
		attrs.Class: "alert alert-danger",
	})
}

func field(id, label, inputType, autocomplete string) *elem.Element {
	return elem.Div(attrs.Props{
		attrs.Class: "form-group",
	},
		elem.Label(attrs.Props{
			attrs.For: id,
		}, elem.Text(label)),
		elem.Input(attrs.Props{
			"id":           id,
			attrs.Name:     id,
			attrs.Type:     inputType,
			"autocomplete": autocomplete,
			"required":     "true",
		}),
	)
}

// submitButton は wasm がハンドラーを登録するまで無効のまま描画される。
func submitButton(label string) *elem.Element {
	return elem.Button(attrs.Props{
		attrs.Type:     "submit",
		attrs.Class:    "btn btn-primary",
		attrs.Disabled: "true",
	}, elem.Text(label))
}
