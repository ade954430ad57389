package user

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/storyapi/internal/auth"
	"github.com/hitoshi/storyapi/internal/model"
	"github.com/hitoshi/storyapi/internal/repository"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn    func(ctx context.Context, id string) (*model.User, error)
	findByEmailFn func(ctx context.Context, email string) (*model.User, error)
	findFn        func(ctx context.Context, f repository.UserFilter) ([]*model.User, error)
	createFn      func(ctx context.Context, u *model.User) error
	updateFn      func(ctx context.Context, id string, patch repository.Patch) error
	deleteByIDFn  func(ctx context.Context, id string) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}
func (m *mockUserRepo) Find(ctx context.Context, f repository.UserFilter) ([]*model.User, error) {
	if m.findFn != nil {
		return m.findFn(ctx, f)
	}
	return nil, nil
}
func (m *mockUserRepo) Create(ctx context.Context, u *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, u)
	}
	return nil
}
func (m *mockUserRepo) Update(ctx context.Context, id string, patch repository.Patch) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, patch)
	}
	return nil
}
func (m *mockUserRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

// plainHasher はテスト用にbcryptを使わないハッシャー。
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }
func (plainHasher) Verify(password, digest string) bool  { return digest == "hashed:"+password }

type stubIssuer struct{}

func (stubIssuer) IssueToken(subjectID string, role model.Role) (string, error) {
	return "jwt-" + subjectID, nil
}

type mockNotifier struct {
	confirmations []string
	resets        []string
	confirmErr    error
	resetErr      error
}

func (m *mockNotifier) SendConfirmation(ctx context.Context, u *model.User, appURL string) error {
	m.confirmations = append(m.confirmations, u.Email)
	return m.confirmErr
}

func (m *mockNotifier) SendForgotPassword(ctx context.Context, u *model.User, appURL string) error {
	if u.Token == nil {
		return errors.New("token missing")
	}
	m.resets = append(m.resets, *u.Token)
	return m.resetErr
}

func newTestService(repo repository.UserRepository, notifier Notifier) *Service {
	s := NewService(repo, stubIssuer{}, plainHasher{}, notifier)
	s.newToken = func() (string, error) { return "single-use", nil }
	return s
}

func assertStatus(t *testing.T, err error, want int) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *model.APIError with status %d", err, want)
	}
	if apiErr.Status != want {
		t.Errorf("status = %d (%s), want %d", apiErr.Status, apiErr.Message, want)
	}
}

// --- Register ---

func TestService_Register_MissingFields(t *testing.T) {
	s := newTestService(&mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			t.Fatal("store must not be queried when input is incomplete")
			return nil, nil
		},
	}, nil)

	_, err := s.Register(context.Background(), RegisterInput{Firstname: "A", Email: "a@b.com"})
	assertStatus(t, err, model.StatusIncompleteData)
}

func TestService_Register_StoresInactiveUserWithToken(t *testing.T) {
	var created *model.User
	notifier := &mockNotifier{}
	s := newTestService(&mockUserRepo{
		createFn: func(ctx context.Context, u *model.User) error {
			created = u
			return nil
		},
	}, notifier)

	token, err := s.Register(context.Background(), RegisterInput{
		Firstname: "A", Lastname: "B", Email: " a@b.com ", Password: "p",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if token != "jwt-"+created.ID {
		t.Errorf("token = %q", token)
	}
	if created.Email != "a@b.com" {
		t.Errorf("email = %q, want trimmed", created.Email)
	}
	if created.Password != "hashed:p" {
		t.Errorf("password stored as %q, want digest", created.Password)
	}
	if created.Active || created.Role != model.RoleUser {
		t.Errorf("active=%v role=%v, want inactive user", created.Active, created.Role)
	}
	if !created.TokenMatches("single-use") {
		t.Error("verification token not stored")
	}
	if len(notifier.confirmations) != 1 {
		t.Errorf("confirmations = %v, want 1", notifier.confirmations)
	}
}

// TestService_Register_MailFailureIsNotFatal は確認メールの送信失敗で登録が失敗しないことを検証する。
func TestService_Register_MailFailureIsNotFatal(t *testing.T) {
	s := newTestService(&mockUserRepo{}, &mockNotifier{confirmErr: errors.New("smtp down")})

	if _, err := s.Register(context.Background(), RegisterInput{
		Firstname: "A", Lastname: "B", Email: "a@b.com", Password: "p",
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
}

func TestService_Register_DuplicateOnInsert(t *testing.T) {
	s := newTestService(&mockUserRepo{
		createFn: func(ctx context.Context, u *model.User) error { return repository.ErrDuplicate },
	}, nil)

	_, err := s.Register(context.Background(), RegisterInput{
		Firstname: "A", Lastname: "B", Email: "a@b.com", Password: "p",
	})
	assertStatus(t, err, model.StatusEmailExists)
}

func TestService_Register_LookupFailure(t *testing.T) {
	s := newTestService(&mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return nil, errors.New("connection refused")
		},
	}, nil)

	_, err := s.Register(context.Background(), RegisterInput{
		Firstname: "A", Lastname: "B", Email: "a@b.com", Password: "p",
	})
	assertStatus(t, err, model.StatusDatabaseError)
}

// --- Authenticate ---

func TestService_Authenticate_Order(t *testing.T) {
	inactive := &model.User{ID: "u1", Email: "a@b.com", Password: "hashed:p", Role: model.RoleUser}

	tests := []struct {
		name     string
		email    string
		password string
		want     int
	}{
		{"未登録", "x@b.com", "p", model.StatusNotFound},
		{"パスワード不一致", "a@b.com", "wrong", model.StatusWrongPassword},
		{"未有効化", "a@b.com", "p", model.StatusUserUnverified},
		{"入力不足", "a@b.com", "", model.StatusIncompleteData},
	}

	s := newTestService(&mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			if email == inactive.Email {
				u := *inactive
				return &u, nil
			}
			return nil, nil
		},
	}, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Authenticate(context.Background(), tt.email, tt.password)
			assertStatus(t, err, tt.want)
		})
	}
}

// --- Activate ---

func TestService_Activate_Rejections(t *testing.T) {
	token := "single-use"
	users := map[string]*model.User{
		"pending@b.com": {ID: "u1", Email: "pending@b.com", Token: &token},
		"active@b.com":  {ID: "u2", Email: "active@b.com", Active: true, Token: &token},
	}
	s := newTestService(&mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return users[email], nil
		},
		updateFn: func(ctx context.Context, id string, patch repository.Patch) error {
			t.Errorf("unexpected update of %s", id)
			return nil
		},
	}, nil)

	assertStatus(t, s.Activate(context.Background(), "pending@b.com", "other"), model.StatusInvalidToken)
	assertStatus(t, s.Activate(context.Background(), "active@b.com", token), model.StatusInvalidToken)
	assertStatus(t, s.Activate(context.Background(), "none@b.com", token), model.StatusNotFound)
	assertStatus(t, s.Activate(context.Background(), "", token), model.StatusIncompleteData)
}

// --- ForgotPassword ---

func TestService_ForgotPassword_SendsFreshToken(t *testing.T) {
	var patched repository.Patch
	notifier := &mockNotifier{}
	s := newTestService(&mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: "u1", Email: email, Active: true}, nil
		},
		updateFn: func(ctx context.Context, id string, patch repository.Patch) error {
			patched = patch
			return nil
		},
	}, notifier)
	s.newToken = func() (string, error) { return "reset-token", nil }

	if err := s.ForgotPassword(context.Background(), "a@b.com", ""); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	if patched["token"] != "reset-token" {
		t.Errorf("patch = %v, want token reset-token", patched)
	}
	if len(notifier.resets) != 1 || notifier.resets[0] != "reset-token" {
		t.Errorf("resets = %v", notifier.resets)
	}
}

// TestService_ForgotPassword_MailFailure は再設定メールの送信失敗が501になることを検証する。
func TestService_ForgotPassword_MailFailure(t *testing.T) {
	s := newTestService(&mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: "u1", Email: email}, nil
		},
	}, &mockNotifier{resetErr: errors.New("quota exceeded")})

	assertStatus(t, s.ForgotPassword(context.Background(), "a@b.com", ""), model.StatusEmailError)
}

func TestService_ForgotPassword_UnknownEmail(t *testing.T) {
	s := newTestService(&mockUserRepo{}, &mockNotifier{})
	assertStatus(t, s.ForgotPassword(context.Background(), "a@b.com", ""), model.StatusNotFound)
}

// --- Update / Delete ---

// TestService_Update_ChecksExistenceBeforeOwnership は存在確認が所有者チェックより先に行われることを検証する。
func TestService_Update_ChecksExistenceBeforeOwnership(t *testing.T) {
	s := newTestService(&mockUserRepo{}, nil)

	_, err := s.Update(context.Background(), model.Identity{ID: "u1", Role: model.RoleUser}, Query{ID: "missing"}, map[string]any{"firstname": "X"})
	assertStatus(t, err, model.StatusNotFound)
}

func TestService_Update_NonOwnerIsRejectedBeforeWrite(t *testing.T) {
	s := newTestService(&mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id}, nil
		},
		updateFn: func(ctx context.Context, id string, patch repository.Patch) error {
			t.Fatal("store must not be written by a non-owner")
			return nil
		},
	}, nil)

	_, err := s.Update(context.Background(), model.Identity{ID: "u1", Role: model.RoleUser}, Query{ID: "u2"}, map[string]any{"firstname": "X"})
	assertStatus(t, err, model.StatusNotAuthorized)
}

// TestService_Update_FiltersFields は許可リスト外のキーが捨てられ、パスワードがハッシュ化されることを検証する。
func TestService_Update_FiltersFields(t *testing.T) {
	var patched repository.Patch
	s := newTestService(&mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "a@b.com"}, nil
		},
		updateFn: func(ctx context.Context, id string, patch repository.Patch) error {
			patched = patch
			return nil
		},
	}, nil)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	_, err := s.Update(context.Background(), model.Identity{ID: "u1", Role: model.RoleUser}, Query{}, map[string]any{
		"firstname": "New",
		"password":  "secret",
		"email":     "evil@b.com",
		"active":    true,
		"token":     "x",
		"createdAt": "1970-01-01T00:00:00Z",
		"_id":       "u9",
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	for _, key := range []string{"email", "active", "token", "createdAt", "_id", "updatedBy"} {
		if _, ok := patched[key]; ok {
			t.Errorf("patch must not contain %q: %v", key, patched)
		}
	}
	if patched["firstname"] != "New" {
		t.Errorf("firstname = %v", patched["firstname"])
	}
	if patched["password"] != "hashed:secret" {
		t.Errorf("password = %v, want digest", patched["password"])
	}
	if patched["updatedAt"] != fixed {
		t.Errorf("updatedAt = %v, want %v", patched["updatedAt"], fixed)
	}
}

func TestService_Update_RoleRequiresAssignCapability(t *testing.T) {
	repo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id}, nil
		},
	}
	s := newTestService(repo, nil)

	_, err := s.Update(context.Background(), model.Identity{ID: "u1", Role: model.RoleAdmin}, Query{ID: "u2"}, map[string]any{"role": float64(1)})
	assertStatus(t, err, model.StatusPermissionDenied)

	_, err = s.Update(context.Background(), model.Identity{ID: "u1", Role: model.RoleMaster}, Query{ID: "u2"}, map[string]any{"role": float64(7)})
	assertStatus(t, err, model.StatusInvalidData)

	_, err = s.Update(context.Background(), model.Identity{ID: "u1", Role: model.RoleMaster}, Query{ID: "u2"}, map[string]any{"role": float64(2)})
	if err != nil {
		t.Errorf("master role change: %v", err)
	}
}

func TestService_Update_RejectsWrongValueType(t *testing.T) {
	s := newTestService(&mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id}, nil
		},
	}, nil)

	_, err := s.Update(context.Background(), model.Identity{ID: "u1", Role: model.RoleUser}, Query{}, map[string]any{"lastname": 12.0})
	assertStatus(t, err, model.StatusInvalidData)
}

func TestService_Delete_Errors(t *testing.T) {
	s := newTestService(&mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: "u2", Email: email}, nil
		},
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id}, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error {
			return errors.New("write concern")
		},
	}, nil)

	err := s.Delete(context.Background(), model.Identity{ID: "u1", Role: model.RoleUser}, Query{Email: "b@b.com"})
	assertStatus(t, err, model.StatusNotAuthorized)

	err = s.Delete(context.Background(), model.Identity{ID: "u1", Role: model.RoleUser}, Query{})
	assertStatus(t, err, model.StatusDatabaseError)
}

// --- シナリオ（インメモリストア） ---

// TestScenario_RegisterTwice は同じメールアドレスでの再登録がEMAIL_EXISTSになることを検証する。
func TestScenario_RegisterTwice(t *testing.T) {
	s := newTestService(repository.NewMemoryStore().Users(), &mockNotifier{})
	in := RegisterInput{Firstname: "A", Lastname: "B", Email: "a@b.com", Password: "p"}

	token, err := s.Register(context.Background(), in)
	if err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if token == "" {
		t.Error("expected a token")
	}

	_, err = s.Register(context.Background(), in)
	assertStatus(t, err, model.StatusEmailExists)
}

// TestScenario_ActivateThenAuthenticate は有効化前の認証がUSER_UNVERIFIED、有効化後は成功することを検証する。
func TestScenario_ActivateThenAuthenticate(t *testing.T) {
	ctx := context.Background()
	issuer := auth.NewIssuer(auth.TokenConfig{Secret: []byte("secret"), Issuer: "http://localhost"})
	s := NewService(repository.NewMemoryStore().Users(), issuer, auth.NewPasswordHasher(4), &mockNotifier{})
	s.newToken = func() (string, error) { return "activation", nil }

	if _, err := s.Register(ctx, RegisterInput{Firstname: "A", Lastname: "B", Email: "a@b.com", Password: "p"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := s.Authenticate(ctx, "a@b.com", "p")
	assertStatus(t, err, model.StatusUserUnverified)

	if err := s.Activate(ctx, "a@b.com", "activation"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	// トークンは消費済み
	assertStatus(t, s.Activate(ctx, "a@b.com", "activation"), model.StatusInvalidToken)

	res, err := s.Authenticate(ctx, "a@b.com", "p")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	identity, err := issuer.ParseToken(res.Token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if identity.ID != res.ID || identity.Role != model.RoleUser || res.Role != model.RoleUser {
		t.Errorf("identity = %+v, result = %+v", identity, res)
	}
}

func TestScenario_ForgotAndResetPassword(t *testing.T) {
	ctx := context.Background()
	notifier := &mockNotifier{}
	s := NewService(repository.NewMemoryStore().Users(), stubIssuer{}, plainHasher{}, notifier)

	if _, err := s.Register(ctx, RegisterInput{Firstname: "A", Lastname: "B", Email: "a@b.com", Password: "old"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.ForgotPassword(ctx, "a@b.com", "https://app.example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	resetToken := notifier.resets[0]

	err := s.ResetPassword(ctx, ResetPasswordInput{Email: "a@b.com", Token: "wrong", Password: "new"})
	assertStatus(t, err, model.StatusInvalidToken)

	if err := s.ResetPassword(ctx, ResetPasswordInput{Email: "a@b.com", Token: resetToken, Password: "new"}); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	if _, err := s.Authenticate(ctx, "a@b.com", "old"); err == nil {
		t.Error("old password must no longer authenticate")
	}
	if _, err := s.Authenticate(ctx, "a@b.com", "new"); err != nil {
		t.Errorf("Authenticate with new password: %v", err)
	}
	assertStatus(t, s.ResetPassword(ctx, ResetPasswordInput{Email: "a@b.com", Token: resetToken, Password: "again"}), model.StatusInvalidToken)
}

// TestScenario_GetProjectsPrivateFields は他人から見たユーザーに非公開フィールドが含まれないことを検証する。
func TestScenario_GetProjectsPrivateFields(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	s := newTestService(store.Users(), nil)

	if _, err := s.Register(ctx, RegisterInput{Firstname: "A", Lastname: "B", Email: "a@b.com", Password: "p"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	owner, _ := store.Users().FindByEmail(ctx, "a@b.com")

	others, err := s.Get(ctx, model.Identity{ID: "someone", Role: model.RoleUser}, Query{Email: "a@b.com"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for _, key := range []string{"password", "token", "active", "role"} {
		if _, ok := others[0][key]; ok {
			t.Errorf("non-owner view contains %q", key)
		}
	}

	self, err := s.Get(ctx, model.Identity{ID: owner.ID, Role: model.RoleUser}, Query{ID: owner.ID})
	if err != nil {
		t.Fatalf("Get self: %v", err)
	}
	if pw, _ := self[0]["password"].(string); !strings.HasPrefix(pw, "hashed:") {
		t.Errorf("owner view password = %v", self[0]["password"])
	}

	_, err = s.Get(ctx, model.Identity{ID: owner.ID}, Query{Username: "nobody"})
	assertStatus(t, err, model.StatusNotFound)
}
