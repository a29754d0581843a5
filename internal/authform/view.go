// Package authform はサインイン・サインアウト・サインアップフォームの送信処理を提供します。
//
// 各ハンドラーはフォーム送信イベントを受け取り、既定のページ遷移を止め、
// 入力値を API に送信し、結果に応じてページ遷移またはエラー表示を行います。
// ページへの読み書きは View を通して行うため、ブラウザー（jsview）でも
// テスト用のメモリー実装でも同じコントローラーが動きます。
package authform

// 入力要素の ID
const (
	FieldEmail            = "email"
	FieldPassword         = "password"
	FieldRegisterName     = "register-name"
	FieldRegisterEmail    = "register-email"
	FieldRegisterPassword = "register-password"
	FieldRegisterRetype   = "register-retype"
)

// エラー表示要素の ID
const (
	AlertLogin    = "login-alert"
	AlertRegister = "register-alert"
)

// フォーム要素の ID（送信中は送信ボタンを無効化する）
const (
	FormLogin    = "login-form"
	FormLogout   = "logout-form"
	FormRegister = "register-form"
)

// View はページの状態を読み書きするインターフェースです。
// 実装は複数のゴルーチンから呼ばれても安全である必要があります。
type View interface {
	// FieldValue は入力要素の現在値を返します。要素が無い場合は空文字列です。
	FieldValue(id string) string
	// ShowAlert はエラー表示要素にテキストを設定し、hidden 属性を外します。
	ShowAlert(id, text string)
	// Navigate はブラウザーを指定のURLへ遷移させます。
	Navigate(url string)
	// SetBusy はフォームの送信ボタンの有効・無効を切り替えます。
	SetBusy(formID string, busy bool)
}

// Event はフォーム送信イベントです。
type Event interface {
	PreventDefault()
}
