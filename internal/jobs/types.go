package jobs

import "time"

// Status は確認メールの配信状態を表します。
type Status string

const (
	StatusQueued  Status = "queued"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// ErrorInfo は配信失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record はユーザーごとの確認メール配信状況です。
type Record struct {
	UserID    int64      `json:"userId"`
	Email     string     `json:"email"`
	Status    Status     `json:"status"`
	Attempts  int        `json:"attempts"`
	TaskID    string     `json:"taskId,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// VerificationPayload は確認メール送信タスクのペイロードです。
type VerificationPayload struct {
	UserID int64  `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Token  string `json:"token"`
}
