// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/storyapi/internal/auth"
	"github.com/hitoshi/storyapi/internal/model"
	"github.com/hitoshi/storyapi/internal/policy"
	"github.com/hitoshi/storyapi/internal/repository"
)

// TokenIssuer はベアラートークンの発行インターフェース。
type TokenIssuer interface {
	IssueToken(subjectID string, role model.Role) (string, error)
}

// PasswordHasher はパスワードのハッシュ化・照合インターフェース。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
}

// Notifier は確認メールとパスワード再設定メールの送信インターフェース。
type Notifier interface {
	SendConfirmation(ctx context.Context, user *model.User, appURL string) error
	SendForgotPassword(ctx context.Context, user *model.User, appURL string) error
}

// RegisterInput は新規登録の入力。
type RegisterInput struct {
	Firstname string
	Lastname  string
	Email     string
	Password  string
	Username  string
	AppURL    string
}

// AuthResult は認証成功時のレスポンス内容。
type AuthResult struct {
	Token string     `json:"token"`
	ID    string     `json:"id"`
	Role  model.Role `json:"role"`
}

// ResetPasswordInput はパスワード再設定の入力。
type ResetPasswordInput struct {
	Email    string
	Token    string
	Password string
}

// Query はユーザーの検索・更新・削除対象の指定。
type Query struct {
	ID       string
	Email    string
	Username string
}

func (q Query) empty() bool {
	return q.ID == "" && q.Email == "" && q.Username == ""
}

// Service はユーザー管理のサービス層。
type Service struct {
	repo     repository.UserRepository
	issuer   TokenIssuer
	hasher   PasswordHasher
	notifier Notifier

	newID    func() string
	newToken func() (string, error)
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.UserRepository, issuer TokenIssuer, hasher PasswordHasher, notifier Notifier) *Service {
	return &Service{
		repo:     repo,
		issuer:   issuer,
		hasher:   hasher,
		notifier: notifier,
		newID:    uuid.NewString,
		newToken: auth.NewSingleUseToken,
		now:      time.Now,
	}
}

// Register はユーザーを登録し、ベアラートークンを返す。
// 登録直後のアカウントは無効で、確認メールのトークンで有効化する。
func (s *Service) Register(ctx context.Context, in RegisterInput) (string, error) {
	in.Email = strings.TrimSpace(in.Email)
	if missing := missingFields(map[string]string{
		"firstname": in.Firstname,
		"lastname":  in.Lastname,
		"email":     in.Email,
		"password":  in.Password,
	}); len(missing) > 0 {
		return "", model.NewDataNotCompleteError(missing...)
	}

	existing, err := s.repo.FindByEmail(ctx, in.Email)
	if err != nil {
		return "", model.NewDatabaseError(err)
	}
	if existing != nil {
		return "", model.NewEmailExistsError()
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return "", fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}
	verifyToken, err := s.newToken()
	if err != nil {
		return "", err
	}

	now := s.now()
	u := &model.User{
		ID:        s.newID(),
		Email:     in.Email,
		Username:  in.Username,
		Password:  digest,
		Firstname: in.Firstname,
		Lastname:  in.Lastname,
		Role:      model.RoleUser,
		Active:    false,
		Token:     &verifyToken,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return "", model.NewEmailExistsError()
		}
		return "", model.NewDatabaseError(err)
	}

	slog.Info("ユーザーを登録しました", slog.String("user_id", u.ID))

	// メール送信の失敗で登録は取り消さない。再送はforgot-passwordで代替できる
	if s.notifier != nil {
		if err := s.notifier.SendConfirmation(ctx, u, in.AppURL); err != nil {
			slog.Warn("確認メールの送信に失敗しました",
				slog.String("user_id", u.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	token, err := s.issuer.IssueToken(u.ID, u.Role)
	if err != nil {
		return "", err
	}
	return token, nil
}

// Authenticate はメールアドレスとパスワードで認証し、トークンを発行する。
// 判定順は 未登録 → パスワード不一致 → 未有効化。
func (s *Service) Authenticate(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.TrimSpace(email)
	if missing := missingFields(map[string]string{"email": email, "password": password}); len(missing) > 0 {
		return nil, model.NewDataNotCompleteError(missing...)
	}

	u, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, model.NewDatabaseError(err)
	}
	if u == nil {
		return nil, model.NewNotFoundError(policy.UserResource.Name)
	}
	if !s.hasher.Verify(password, u.Password) {
		return nil, model.NewWrongPasswordError()
	}
	if !u.Active {
		return nil, model.NewUserUnverifiedError()
	}

	token, err := s.issuer.IssueToken(u.ID, u.Role)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, ID: u.ID, Role: u.Role}, nil
}

// Activate は確認メールのトークンでアカウントを有効化する。トークンは1回で消費される。
func (s *Service) Activate(ctx context.Context, email, token string) error {
	email = strings.TrimSpace(email)
	if missing := missingFields(map[string]string{"email": email, "token": token}); len(missing) > 0 {
		return model.NewDataNotCompleteError(missing...)
	}

	u, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return model.NewDatabaseError(err)
	}
	if u == nil {
		return model.NewNotFoundError(policy.UserResource.Name)
	}
	if u.Active || !u.TokenMatches(token) {
		return model.NewInvalidTokenError()
	}

	if err := s.repo.Update(ctx, u.ID, repository.Patch{
		"active":    true,
		"token":     nil,
		"updatedAt": s.now(),
	}); err != nil {
		return s.mutationError(err)
	}

	slog.Info("アカウントを有効化しました", slog.String("user_id", u.ID))
	return nil
}

// ForgotPassword は再設定用トークンを発行し、メールで送る。
// appURLが空の場合は通知側の既定URLを使う。
func (s *Service) ForgotPassword(ctx context.Context, email, appURL string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return model.NewDataNotCompleteError("email")
	}

	u, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return model.NewDatabaseError(err)
	}
	if u == nil {
		return model.NewNotFoundError(policy.UserResource.Name)
	}

	resetToken, err := s.newToken()
	if err != nil {
		return err
	}
	if err := s.repo.Update(ctx, u.ID, repository.Patch{
		"token":     resetToken,
		"updatedAt": s.now(),
	}); err != nil {
		return s.mutationError(err)
	}
	u.Token = &resetToken

	if s.notifier == nil {
		return model.NewEmailError(errors.New("notifier is not configured"))
	}
	if err := s.notifier.SendForgotPassword(ctx, u, appURL); err != nil {
		return model.NewEmailError(err)
	}
	return nil
}

// ResetPassword は再設定トークンを検証して新しいパスワードを設定する。
// メールの往復で本人確認が済むため、未有効化のアカウントもあわせて有効化する。
func (s *Service) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	in.Email = strings.TrimSpace(in.Email)
	if missing := missingFields(map[string]string{
		"email":    in.Email,
		"token":    in.Token,
		"password": in.Password,
	}); len(missing) > 0 {
		return model.NewDataNotCompleteError(missing...)
	}

	u, err := s.repo.FindByEmail(ctx, in.Email)
	if err != nil {
		return model.NewDatabaseError(err)
	}
	if u == nil {
		return model.NewNotFoundError(policy.UserResource.Name)
	}
	if !u.TokenMatches(in.Token) {
		return model.NewInvalidTokenError()
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}
	if err := s.repo.Update(ctx, u.ID, repository.Patch{
		"password":  digest,
		"token":     nil,
		"active":    true,
		"updatedAt": s.now(),
	}); err != nil {
		return s.mutationError(err)
	}

	slog.Info("パスワードを再設定しました", slog.String("user_id", u.ID))
	return nil
}

// Get は条件に一致するユーザーを閲覧者に応じて射影して返す。
// 条件が空の場合は全ユーザーを返す。
func (s *Service) Get(ctx context.Context, requester model.Identity, q Query) ([]policy.Record, error) {
	users, err := s.repo.Find(ctx, repository.UserFilter{
		ID:       q.ID,
		Email:    q.Email,
		Username: q.Username,
	})
	if err != nil {
		return nil, model.NewDatabaseError(err)
	}
	if len(users) == 0 {
		return nil, model.NewNotFoundError(policy.UserResource.Name)
	}

	out := make([]policy.Record, 0, len(users))
	for _, u := range users {
		out = append(out, policy.UserResource.View(requester, u.ID, u.Fields()))
	}
	return out, nil
}

// Update は対象ユーザーを部分更新する。対象の指定がなければ自分自身を更新する。
// 判定順は 存在確認 → 所有者・特権ロール → フィールド許可リスト。
func (s *Service) Update(ctx context.Context, requester model.Identity, q Query, body map[string]any) (policy.Record, error) {
	target, err := s.resolveTarget(ctx, requester, q)
	if err != nil {
		return nil, err
	}
	if !policy.CanManage(requester, target.ID) {
		return nil, model.NewNotAuthorizedError("requester cannot manage user " + target.ID)
	}

	accepted, err := policy.UserResource.FilterUpdate(requester, body)
	if err != nil {
		return nil, err
	}
	patch, err := s.normalize(accepted)
	if err != nil {
		return nil, err
	}
	// ユーザーはupdatedByを持たない
	patch["updatedAt"] = s.now()

	if err := s.repo.Update(ctx, target.ID, patch); err != nil {
		return nil, s.mutationError(err)
	}

	updated, err := s.repo.FindByID(ctx, target.ID)
	if err != nil {
		return nil, model.NewDatabaseError(err)
	}
	if updated == nil {
		return nil, model.NewNotFoundError(policy.UserResource.Name)
	}
	return policy.UserResource.View(requester, updated.ID, updated.Fields()), nil
}

// Delete は対象ユーザーを削除する。対象の指定がなければ自分自身を削除する。
func (s *Service) Delete(ctx context.Context, requester model.Identity, q Query) error {
	target, err := s.resolveTarget(ctx, requester, q)
	if err != nil {
		return err
	}
	if !policy.CanManage(requester, target.ID) {
		return model.NewNotAuthorizedError("requester cannot manage user " + target.ID)
	}

	if err := s.repo.DeleteByID(ctx, target.ID); err != nil {
		return s.mutationError(err)
	}

	slog.Info("ユーザーを削除しました",
		slog.String("user_id", target.ID),
		slog.String("requested_by", requester.ID),
	)
	return nil
}

// resolveTarget は更新・削除の対象を _id → email の順で解決する。
func (s *Service) resolveTarget(ctx context.Context, requester model.Identity, q Query) (*model.User, error) {
	var (
		u   *model.User
		err error
	)
	switch {
	case q.ID != "":
		u, err = s.repo.FindByID(ctx, q.ID)
	case q.Email != "":
		u, err = s.repo.FindByEmail(ctx, q.Email)
	default:
		u, err = s.repo.FindByID(ctx, requester.ID)
	}
	if err != nil {
		return nil, model.NewDatabaseError(err)
	}
	if u == nil {
		return nil, model.NewNotFoundError(policy.UserResource.Name)
	}
	return u, nil
}

// normalize は受け付けたフィールドの型をそろえ、パスワードをハッシュ化する。
func (s *Service) normalize(accepted map[string]any) (repository.Patch, error) {
	patch := make(repository.Patch, len(accepted)+1)
	for key, v := range accepted {
		switch key {
		case "role":
			n, ok := policy.IntValue(v)
			if !ok || !model.Role(n).Valid() {
				return nil, model.NewInvalidDataError("role must be 1, 2 or 3")
			}
			patch[key] = n
		case "password":
			pw, ok := policy.StringValue(v)
			if !ok || pw == "" {
				return nil, model.NewInvalidDataError("password must be a non-empty string")
			}
			digest, err := s.hasher.Hash(pw)
			if err != nil {
				return nil, fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
			}
			patch[key] = digest
		default:
			str, ok := policy.StringValue(v)
			if !ok {
				return nil, model.NewInvalidDataError(key + " must be a string")
			}
			patch[key] = str
		}
	}
	return patch, nil
}

// mutationError は更新・削除の失敗をエラー種別に変換する。
func (s *Service) mutationError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewNotFoundError(policy.UserResource.Name)
	}
	return model.NewDatabaseError(err)
}

// missingFields は空の必須項目名を並び順を固定して返す。
func missingFields(fields map[string]string) []string {
	var missing []string
	for _, name := range []string{"firstname", "lastname", "email", "token", "password"} {
		if v, ok := fields[name]; ok && strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
