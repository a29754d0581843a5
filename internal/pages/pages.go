package pages

import (
	"github.com/chasefleming/elem-go"
	"github.com/chasefleming/elem-go/attrs"

	"github.com/yourusername/mealplanner/internal/authform"
	"github.com/yourusername/mealplanner/internal/storage"
)

// SignInPage はトップページ（サインインフォーム）です。
func SignInPage() *elem.Element {
	return layout("Sign in",
		elem.H1(nil, elem.Text("Meal Planner")),
		alert(authform.AlertLogin),
		elem.Form(attrs.Props{
			"id":       authform.FormLogin,
			"method":   "post",
			"action":   authform.LoginPath,
			"onsubmit": "signIn(event)",
		},
			field(authform.FieldEmail, "Email address", "email", "email"),
			field(authform.FieldPassword, "Password", "password", "current-password"),
			submitButton("Sign in"),
		),
		elem.P(nil,
			elem.Text("New here? "),
			elem.A(attrs.Props{
				attrs.Href: "/sign-up.html",
			}, elem.Text("Create an account")),
		),
	)
}

// SignUpPage はアカウント登録ページです。
func SignUpPage() *elem.Element {
	return layout("Sign up",
		elem.H1(nil, elem.Text("Create an account")),
		alert(authform.AlertRegister),
		elem.Form(attrs.Props{
			"id":       authform.FormRegister,
			"method":   "post",
			"action":   authform.RegisterPath,
			"onsubmit": "signUp(event)",
		},
			field(authform.FieldRegisterName, "Name", "text", "name"),
			field(authform.FieldRegisterEmail, "Email address", "email", "email"),
			field(authform.FieldRegisterPassword, "Password", "password", "new-password"),
			field(authform.FieldRegisterRetype, "Retype password", "password", "new-password"),
			submitButton("Sign up"),
		),
		elem.P(nil,
			elem.Text("Already registered? "),
			elem.A(attrs.Props{
				attrs.Href: "/",
			}, elem.Text("Sign in")),
		),
	)
}

func signOutForm() *elem.Element {
	return elem.Form(attrs.Props{
		"id":       authform.FormLogout,
		"method":   "post",
		"action":   authform.LogoutPath,
		"onsubmit": "signOut(event)",
	},
		submitButton("Sign out"),
	)
}

// SignOutPage はサインアウトの確認ページです。
func SignOutPage() *elem.Element {
	return layout("Sign out",
		elem.H1(nil, elem.Text("Sign out")),
		elem.P(nil, elem.Text("Are you sure you want to sign out?")),
		signOutForm(),
	)
}

// FamilyPage はファミリー画面です。
func FamilyPage(family *storage.Family, verified bool) *elem.Element {
	children := []elem.Node{
		elem.H1(nil, elem.Text(family.Name)),
	}
	if !verified {
		children = append(children, elem.P(attrs.Props{
			attrs.Class: "notice",
		}, elem.Text("Please check your inbox to verify your email address.")))
	}
	if family.AccountStatus == storage.AccountStatusTrial && family.StatusExpiresOn != "" {
		children = append(children, elem.P(nil,
			elem.Text("Trial ends on "+family.StatusExpiresOn+".")))
	}
	children = append(children, signOutForm())
	return layout(family.Name, children...)
}

// MessagePage は見出しと本文だけのページです（確認結果やエラー表示用）。
func MessagePage(title, message string) *elem.Element {
	return layout(title,
		elem.H1(nil, elem.Text(title)),
		elem.P(nil, elem.Text(message)),
		elem.P(nil,
			elem.A(attrs.Props{
				attrs.Href: "/",
			}, elem.Text("Back to the start page")),
		),
	)
}
