package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"gopkg.in/gorp.v2"
)

// LocalStore は SQLite ファイルに保存する Repository 実装です。
type LocalStore struct {
	db    *sql.DB
	dbmap *gorp.DbMap
	now   func() time.Time
}

var _ Repository = (*LocalStore)(nil)

// OpenLocal は SQLite を開き、テーブルが無ければ作成します。
func OpenLocal(path string) (*LocalStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite は単一ライターなので接続を 1 本にしてロック競合を避ける
	db.SetMaxOpenConns(1)

	// synchronous=NORMAL はクラッシュ時の損失リスクと書き込み性能の折衷
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	dbmap := &gorp.DbMap{Db: db, Dialect: gorp.SqliteDialect{}}
	dbmap.AddTableWithName(User{}, "users").SetKeys(true, "ID")
	dbmap.AddTableWithName(Family{}, "families").SetKeys(true, "ID")
	dbmap.AddTableWithName(FamilyMember{}, "familymembers").SetKeys(true, "ID")
	if err := dbmap.CreateTablesIfNotExists(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if _, err := db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS users_email ON users (email)"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &LocalStore{db: db, dbmap: dbmap, now: time.Now}, nil
}

// Close はデータベースを閉じます。
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// UserByEmail はメールアドレスでユーザーを検索します。
func (s *LocalStore) UserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := s.dbmap.WithContext(ctx).SelectOne(&user,
		"SELECT * FROM users WHERE email=? LIMIT 1", normalizeEmail(email))
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// User は ID でユーザーを取得します。
func (s *LocalStore) User(ctx context.Context, id int64) (*User, error) {
	var user User
	err := s.dbmap.WithContext(ctx).SelectOne(&user, "SELECT * FROM users WHERE id=?", id)
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// EmailExists は同じメールアドレスのユーザーがいるかどうかを返します。
func (s *LocalStore) EmailExists(ctx context.Context, email string) (bool, error) {
	count, err := s.dbmap.WithContext(ctx).SelectInt(
		"SELECT COUNT(email) FROM users WHERE email=?", normalizeEmail(email))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateAccount はユーザー・ファミリー・所属を 1 トランザクションで作成します。
func (s *LocalStore) CreateAccount(ctx context.Context, input NewAccount) (*Account, error) {
	email := normalizeEmail(input.Email)

	tx, err := s.dbmap.Begin()
	if err != nil {
		return nil, err
	}
	exec := tx.WithContext(ctx)

	count, err := exec.SelectInt("SELECT COUNT(email) FROM users WHERE email=?", email)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if count > 0 {
		tx.Rollback()
		return nil, ErrEmailTaken
	}

	user := User{
		UserName:   email,
		Password:   input.PasswordHash,
		Email:      email,
		Name:       input.Name,
		EmailToken: input.EmailToken,
	}
	if err := exec.Insert(&user); err != nil {
		tx.Rollback()
		// 別接続からの同時登録は一意インデックスで検出する
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	today := s.now()
	family := Family{
		UserID:          user.ID,
		Name:            user.Name,
		CreatedOn:       today.Format(DateFormat),
		AccountStatus:   AccountStatusTrial,
		StatusExpiresOn: today.AddDate(0, 0, input.TrialDays).Format(DateFormat),
	}
	if err := exec.Insert(&family); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("insert family: %w", err)
	}

	member := FamilyMember{
		FamilyID: family.ID,
		UserID:   user.ID,
		CanEdit:  true,
	}
	if err := exec.Insert(&member); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("insert member: %w", err)
	}

	user.DefaultFamilyID = family.ID
	if _, err := exec.Update(&user); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("update user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Account{User: user, Family: family}, nil
}

// FamilyIDs はユーザーが所属するファミリーIDを昇順で返します。
func (s *LocalStore) FamilyIDs(ctx context.Context, userID int64) ([]int64, error) {
	var members []FamilyMember
	_, err := s.dbmap.WithContext(ctx).Select(&members,
		"SELECT * FROM familymembers WHERE user_id=? ORDER BY family_id", userID)
	if err != nil {
		return nil, err
	}

	families := make([]int64, 0, len(members))
	for _, member := range members {
		families = append(families, member.FamilyID)
	}
	return families, nil
}

// Families はユーザーが所属するファミリーを返します。
func (s *LocalStore) Families(ctx context.Context, userID int64) ([]Family, error) {
	families := []Family{}
	_, err := s.dbmap.WithContext(ctx).Select(&families,
		"SELECT families.* FROM families JOIN familymembers ON families.id=familymembers.family_id "+
			"WHERE familymembers.user_id=? ORDER BY families.id", userID)
	if err != nil {
		return nil, err
	}
	return families, nil
}

// Family は ID でファミリーを取得します。
func (s *LocalStore) Family(ctx context.Context, id int64) (*Family, error) {
	var family Family
	err := s.dbmap.WithContext(ctx).SelectOne(&family, "SELECT * FROM families WHERE id=?", id)
	if err != nil {
		return nil, notFound(err)
	}
	return &family, nil
}

// VerifyEmail はトークンが一致した場合に email_verified を立てます。
func (s *LocalStore) VerifyEmail(ctx context.Context, userID int64, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	res, err := s.dbmap.WithContext(ctx).Exec(
		"UPDATE users SET email_verified=1 WHERE id=? AND email_token=?", userID, token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateUserProfile は表示名とメールアドレスを更新します。
// メールアドレスが変わった場合は確認済みフラグを戻します。
func (s *LocalStore) UpdateUserProfile(ctx context.Context, id int64, name, email string) (*User, error) {
	email = normalizeEmail(email)

	tx, err := s.dbmap.Begin()
	if err != nil {
		return nil, err
	}
	exec := tx.WithContext(ctx)

	var user User
	if err := exec.SelectOne(&user, "SELECT * FROM users WHERE id=?", id); err != nil {
		tx.Rollback()
		return nil, notFound(err)
	}
	if user.Email != email {
		user.EmailVerified = false
	}
	user.Name = name
	user.Email = email
	user.UserName = email

	if _, err := exec.Update(&user); err != nil {
		tx.Rollback()
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdatePassword はパスワードハッシュを差し替えます。
func (s *LocalStore) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := s.dbmap.WithContext(ctx).Exec("UPDATE users SET password=? WHERE id=?", passwordHash, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateFamilyName はファミリー名を変更します。
func (s *LocalStore) UpdateFamilyName(ctx context.Context, id int64, name string) (*Family, error) {
	res, err := s.dbmap.WithContext(ctx).Exec("UPDATE families SET name=? WHERE id=?", name, id)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.Family(ctx, id)
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
