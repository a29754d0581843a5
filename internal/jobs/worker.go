// Package jobs は登録確認メールの非同期送信を提供します。
//
// 送信は Asynq のタスクとして実行し、ユーザーごとの配信状況を Redis に保存します。
package jobs

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/yourusername/mealplanner/internal/mail"
)

const verificationSubject = "Meal Planner - Email Verification"

// VerificationURL は確認ページのURLを組み立てます。
func VerificationURL(baseURL string, userID int64, token string) string {
	return fmt.Sprintf("%s/user/%d/verify.html?token=%s",
		strings.TrimRight(baseURL, "/"), userID, url.QueryEscape(token))
}

func verificationMessage(baseURL string, payload VerificationPayload) mail.Message {
	link := VerificationURL(baseURL, payload.UserID, payload.Token)
	escaped := html.EscapeString(link)

	greeting := "Hello,"
	if payload.Name != "" {
		greeting = fmt.Sprintf("Hello %s,", payload.Name)
	}

	text := "Meal Planner\r\n" +
		greeting + "\r\n" +
		"Please verify your email address by opening the link below in a web browser.\r\n" +
		link + "\r\n"

	htmlBody := fmt.Sprintf(
		"<h1>Meal Planner</h1>"+
			"<p>%s</p>"+
			"<p>Please verify your email address by clicking the link below.</p>"+
			"<p><a href=\"%s\">%s</a></p>",
		html.EscapeString(greeting), escaped, escaped)

	return mail.Message{
		To:      payload.Email,
		Subject: verificationSubject,
		Text:    text,
		HTML:    htmlBody,
	}
}
