// Package storage はアカウント・ファミリー情報の永続化レイヤーを提供します。
package storage

import (
	"context"
	"errors"
)

// DateFormat はファミリーの日付カラムに使う書式です。
const DateFormat = "2006-01-02"

// 試用アカウントの状態値
const AccountStatusTrial = "trial"

var (
	// ErrNotFound は対象のレコードが存在しないことを表します。
	ErrNotFound = errors.New("storage: record not found")
	// ErrEmailTaken は同じメールアドレスのユーザーが既に存在することを表します。
	ErrEmailTaken = errors.New("storage: email already registered")
)

// User はログイン可能なユーザーです。
type User struct {
	ID       int64  `db:"id" json:"id"`
	UserName string `db:"username" json:"username"` // ログイン名
	Password string `db:"password" json:"-"`        // bcrypt ハッシュ
	Email    string `db:"email" json:"email"`
	Name     string `db:"name" json:"name"` // 表示名

	Admin           bool  `db:"admin" json:"admin"`
	DefaultFamilyID int64 `db:"default_family_id" json:"default_family_id"`

	EmailVerified bool   `db:"email_verified" json:"email_verified"`
	EmailToken    string `db:"email_token" json:"-"`
}

// Family は献立を共有する世帯です。
type Family struct {
	ID     int64  `db:"id" json:"id"`
	UserID int64  `db:"user_id" json:"user_id"` // オーナー
	Name   string `db:"name" json:"name"`

	CreatedOn       string `db:"created_on" json:"created_on"`
	AccountStatus   string `db:"account_status" json:"account_status"`
	StatusExpiresOn string `db:"status_expires_on" json:"status_expires_on"`
}

// FamilyMember はユーザーとファミリーの所属関係です。
type FamilyMember struct {
	ID       int64 `db:"id" json:"id"`
	FamilyID int64 `db:"family_id" json:"family_id"`
	UserID   int64 `db:"user_id" json:"user_id"`
	CanEdit  bool  `db:"can_edit" json:"can_edit"`
}

// NewAccount はアカウント作成時の入力です。Password はハッシュ済みの値を渡します。
type NewAccount struct {
	Name         string
	Email        string
	PasswordHash string
	EmailToken   string
	TrialDays    int
}

// Account は作成されたユーザーと初期ファミリーの組です。
type Account struct {
	User   User
	Family Family
}

// Repository はアカウントの読み書きを抽象化します。
type Repository interface {
	UserByEmail(ctx context.Context, email string) (*User, error)
	User(ctx context.Context, id int64) (*User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	// CreateAccount はユーザー・試用ファミリー・オーナー所属を一括で作成します。
	CreateAccount(ctx context.Context, input NewAccount) (*Account, error)
	// FamilyIDs はユーザーが所属するファミリーIDを昇順で返します。
	FamilyIDs(ctx context.Context, userID int64) ([]int64, error)
	Families(ctx context.Context, userID int64) ([]Family, error)
	Family(ctx context.Context, id int64) (*Family, error)
	// VerifyEmail はトークンが一致した場合にメール確認済みにします。
	VerifyEmail(ctx context.Context, userID int64, token string) (bool, error)

	// UpdateUserProfile は他のユーザーと重複するメールアドレスには ErrEmailTaken を返します。
	UpdateUserProfile(ctx context.Context, id int64, name, email string) (*User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	UpdateFamilyName(ctx context.Context, id int64, name string) (*Family, error)
}
