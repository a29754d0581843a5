package authform

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNoFamily は成功レスポンスにファミリーIDが含まれていないことを表します。
	ErrNoFamily = errors.New("authform: response has no family")
	// ErrNoMessage は失敗レスポンスに message が含まれていないことを表します。
	ErrNoMessage = errors.New("authform: error response has no message")
)

// Result はログイン・登録リクエストの結果です。
// Success, Failure, Malformed のいずれかになります。
type Result interface {
	isResult()
}

// Success はリクエストが成功し、遷移先のファミリーが決まった状態です。
type Success struct {
	FamilyID string
}

// Failure はサーバーがエラーメッセージを返した状態です。
type Failure struct {
	Status  int
	Message string
}

// Malformed はレスポンスを解釈できなかった状態です（通信エラーを含む）。
type Malformed struct {
	Status int // 通信エラーの場合は 0
	Err    error
}

func (Success) isResult()   {}
func (Failure) isResult()   {}
func (Malformed) isResult() {}

func (m Malformed) Error() string {
	if m.Status == 0 {
		return fmt.Sprintf("request failed: %v", m.Err)
	}
	return fmt.Sprintf("unexpected response (status %d): %v", m.Status, m.Err)
}

func (m Malformed) Unwrap() error {
	return m.Err
}

// decodeResult はステータスコードと本文から Result を作ります。
func decodeResult(status int, body []byte) Result {
	if status >= 200 && status < 300 {
		var ok struct {
			Families []json.RawMessage `json:"families"`
		}
		if err := json.Unmarshal(body, &ok); err != nil {
			return Malformed{Status: status, Err: err}
		}
		if len(ok.Families) == 0 {
			return Malformed{Status: status, Err: ErrNoFamily}
		}
		id, err := familyID(ok.Families[0])
		if err != nil {
			return Malformed{Status: status, Err: err}
		}
		return Success{FamilyID: id}
	}

	var failure struct {
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(body, &failure); err != nil {
		return Malformed{Status: status, Err: err}
	}
	if failure.Message == nil {
		return Malformed{Status: status, Err: ErrNoMessage}
	}
	return Failure{Status: status, Message: *failure.Message}
}

// familyID は文字列ならそのまま、数値なら10進表記を返します。
func familyID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", ErrNoFamily
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("authform: unsupported family id %s", raw)
	}
	return n.String(), nil
}
