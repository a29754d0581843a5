package authform

import (
	"context"
	"log"
	"sync"
)

const (
	signInErrorPrefix   = "There was a problem signing in: "
	unexpectedResponse  = "the server returned an unexpected response."
	registerUnexpected  = "The server returned an unexpected response."
	passwordMismatchMsg = "The passwords do not match."
)

// FamilyViewURL はファミリー画面のパスを返します。
// ID はサーバーが返した値をそのまま連結します。
func FamilyViewURL(familyID string) string {
	return "/family/" + familyID + "/view.html"
}

// Controller はフォーム送信を処理します。
// 同じフォームの送信が処理中の場合、次の送信は無視されます。
type Controller struct {
	api    API
	view   View
	logger *log.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewController は Controller を作成します。logger が nil の場合はログを出力しません。
func NewController(api API, view View, logger *log.Logger) *Controller {
	return &Controller{
		api:      api,
		view:     view,
		logger:   logger,
		inFlight: make(map[string]bool),
	}
}

// SignIn はサインインフォームの送信を処理します。
// 返されるチャネルは処理が完了すると閉じられます。
func (c *Controller) SignIn(ctx context.Context, ev Event) <-chan struct{} {
	ev.PreventDefault()
	if !c.acquire(FormLogin) {
		return closed()
	}

	creds := Credentials{
		Email:    c.view.FieldValue(FieldEmail),
		Password: c.view.FieldValue(FieldPassword),
	}

	return c.run(FormLogin, func() {
		switch r := c.api.Login(ctx, creds).(type) {
		case Success:
			c.view.Navigate(FamilyViewURL(r.FamilyID))
		case Failure:
			c.view.ShowAlert(AlertLogin, signInErrorPrefix+r.Message)
		case Malformed:
			c.logf("sign-in: %v", r)
			c.view.ShowAlert(AlertLogin, signInErrorPrefix+unexpectedResponse)
		}
	})
}

// SignOut はサインアウトフォームの送信を処理します。
// 失敗した場合はページを変更しません。
func (c *Controller) SignOut(ctx context.Context, ev Event) <-chan struct{} {
	ev.PreventDefault()
	if !c.acquire(FormLogout) {
		return closed()
	}

	return c.run(FormLogout, func() {
		if err := c.api.Logout(ctx); err != nil {
			c.logf("sign-out: %v", err)
			return
		}
		c.view.Navigate("/")
	})
}

// SignUp はサインアップフォームの送信を処理します。
// パスワードと確認用パスワードが一致しない場合はリクエストを送りません。
func (c *Controller) SignUp(ctx context.Context, ev Event) <-chan struct{} {
	ev.PreventDefault()
	if !c.acquire(FormRegister) {
		return closed()
	}

	reg := Registration{
		Username: c.view.FieldValue(FieldRegisterName),
		Email:    c.view.FieldValue(FieldRegisterEmail),
		Password: c.view.FieldValue(FieldRegisterPassword),
	}
	if reg.Password != c.view.FieldValue(FieldRegisterRetype) {
		c.release(FormRegister)
		c.view.ShowAlert(AlertRegister, passwordMismatchMsg)
		return closed()
	}

	return c.run(FormRegister, func() {
		switch r := c.api.Register(ctx, reg).(type) {
		case Success:
			c.view.Navigate(FamilyViewURL(r.FamilyID))
		case Failure:
			c.view.ShowAlert(AlertRegister, r.Message)
		case Malformed:
			c.logf("sign-up: %v", r)
			c.view.ShowAlert(AlertRegister, registerUnexpected)
		}
	})
}

// run はボタンを無効化してから fn をゴルーチンで実行します。
func (c *Controller) run(formID string, fn func()) <-chan struct{} {
	done := make(chan struct{})
	c.view.SetBusy(formID, true)

	go func() {
		defer close(done)
		defer func() {
			c.view.SetBusy(formID, false)
			c.release(formID)
		}()
		fn()
	}()

	return done
}

func (c *Controller) acquire(formID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight[formID] {
		return false
	}
	c.inFlight[formID] = true
	return true
}

func (c *Controller) release(formID string) {
	c.mu.Lock()
	delete(c.inFlight, formID)
	c.mu.Unlock()
}

func (c *Controller) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

func closed() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
