//go:build js && wasm

// web はサインイン・サインアウト・サインアップのフォーム処理を WebAssembly として提供します。
//
// ページからは signIn(event), signOut(event), signUp(event) として呼び出します。
package main

import (
	"context"
	"log"
	"os"
	"syscall/js"

	"github.com/yourusername/mealplanner/internal/authform"
	"github.com/yourusername/mealplanner/internal/authform/jsview"
)

type submitHandler func(ctx context.Context, ev authform.Event) <-chan struct{}

func main() {
	logger := log.New(os.Stderr, "[authform] ", log.LstdFlags)

	origin := js.Global().Get("location").Get("origin").String()
	view := jsview.New()
	controller := authform.NewController(authform.NewClient(origin, nil), view, logger)

	expose("signIn", controller.SignIn)
	expose("signOut", controller.SignOut)
	expose("signUp", controller.SignUp)

	// ページは送信ボタンを無効にした状態で描画される
	for _, form := range []string{authform.FormLogin, authform.FormLogout, authform.FormRegister} {
		view.SetBusy(form, false)
	}

	logger.Printf("form handlers registered")
	select {}
}

// expose はハンドラーをグローバル関数として登録します。
// コールバック内でブロックするとイベントループが止まるため、完了は待ちません。
func expose(name string, handle submitHandler) {
	js.Global().Set(name, js.FuncOf(func(this js.Value, args []js.Value) any {
		var ev js.Value
		if len(args) > 0 {
			ev = args[0]
		}
		handle(context.Background(), jsview.NewEvent(ev))
		return false
	}))
}
