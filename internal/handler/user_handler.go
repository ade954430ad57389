package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/storyapi/internal/middleware"
	"github.com/hitoshi/storyapi/internal/model"
	"github.com/hitoshi/storyapi/internal/policy"
	"github.com/hitoshi/storyapi/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Register(ctx context.Context, in user.RegisterInput) (string, error)
	Authenticate(ctx context.Context, email, password string) (*user.AuthResult, error)
	Activate(ctx context.Context, email, token string) error
	ForgotPassword(ctx context.Context, email, appURL string) error
	ResetPassword(ctx context.Context, in user.ResetPasswordInput) error
	Get(ctx context.Context, requester model.Identity, q user.Query) ([]policy.Record, error)
	Update(ctx context.Context, requester model.Identity, q user.Query, body map[string]any) (policy.Record, error)
	Delete(ctx context.Context, requester model.Identity, q user.Query) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

// Register はユーザーを登録する。
// POST /user
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	token, err := h.service.Register(r.Context(), user.RegisterInput{
		Firstname: bodyString(body, "firstname"),
		Lastname:  bodyString(body, "lastname"),
		Email:     bodyString(body, "email"),
		Password:  bodySecret(body, "password"),
		Username:  bodyString(body, "username"),
		AppURL:    bodyString(body, "appUrl"),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteSuccess(w, r, "USER_CREATE_SUCCESS", map[string]string{"token": token})
}

// Authenticate はメールアドレスとパスワードで認証する。
// POST /user/auth
func (h *UserHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	res, err := h.service.Authenticate(r.Context(), bodyString(body, "email"), bodySecret(body, "password"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteSuccess(w, r, "USER_AUTH_SUCCESS", res)
}

// Activate はアカウントを有効化する。
// PUT /user/activate
func (h *UserHandler) Activate(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if err := h.service.Activate(r.Context(), bodyString(body, "email"), bodyString(body, "token")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteSuccess(w, r, "USER_ACTIVATE_SUCCESS", nil)
}

// ForgotPassword はパスワード再設定メールを送る。
// POST /user/forgot-password
func (h *UserHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if err := h.service.ForgotPassword(r.Context(), bodyString(body, "email"), bodyString(body, "appUrl")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteSuccess(w, r, "FORGOT_PASSWORD_SUCCESS", nil)
}

// ResetPassword は再設定トークンで新しいパスワードを設定する。
// PUT /user/reset-password
func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if err := h.service.ResetPassword(r.Context(), user.ResetPasswordInput{
		Email:    bodyString(body, "email"),
		Token:    bodyString(body, "token"),
		Password: bodySecret(body, "password"),
	}); err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteSuccess(w, r, "PASSWORD_RESET_SUCCESS", nil)
}

// Get はユーザーを検索する。
// GET /user?_id=|email=|username=
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	users, err := h.service.Get(r.Context(), identity, userQuery(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteSuccess(w, r, "USER_READ_SUCCESS", users)
}

// Update はユーザーを部分更新する。対象の指定がなければ自分自身。
// PUT /user?_id=|email=
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	body, err := parseBody(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	updated, err := h.service.Update(r.Context(), identity, userQuery(r), body)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteSuccess(w, r, "USER_UPDATE_SUCCESS", updated)
}

// Delete はユーザーを削除する。対象の指定がなければ自分自身。
// DELETE /user?_id=|email=
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), identity, userQuery(r)); err != nil {
		handleServiceError(w, r, err)
		return
	}

	middleware.WriteSuccess(w, r, "USER_DELETE_SUCCESS", nil)
}

// SetupUserRoutes はユーザー関連のルーティングを設定したchi.Routerを返す。
// 認証ミドルウェアは呼び出し側で与える。
func SetupUserRoutes(service UserServiceInterface, authenticate func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	mountUserRoutes(r, NewUserHandler(service), authenticate, nil)
	return r
}

// mountUserRoutes は/user配下のルートを登録する。
// 認証不要のルートにはpublicLimitを適用する（nilなら無し）。
func mountUserRoutes(r chi.Router, h *UserHandler, authenticate, publicLimit func(http.Handler) http.Handler) {
	r.Route("/user", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if publicLimit != nil {
				r.Use(publicLimit)
			}
			r.Post("/", h.Register)
			r.Post("/auth", h.Authenticate)
			r.Put("/activate", h.Activate)
			r.Post("/forgot-password", h.ForgotPassword)
			r.Put("/reset-password", h.ResetPassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Get("/", h.Get)
			r.Put("/", h.Update)
			r.Delete("/", h.Delete)
		})
	})
}

func userQuery(r *http.Request) user.Query {
	q := r.URL.Query()
	return user.Query{
		ID:       q.Get("_id"),
		Email:    q.Get("email"),
		Username: q.Get("username"),
	}
}

// bodySecret はパスワードなど前後の空白も値として扱う項目を取り出す。
func bodySecret(body map[string]any, key string) string {
	s, _ := body[key].(string)
	return s
}
