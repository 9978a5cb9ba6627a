package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"crackerpos/backend/internal/apperr"
	"crackerpos/backend/internal/domain"
	"crackerpos/backend/internal/service"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) UpsertUser(_ context.Context, user domain.UserAccount) (domain.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	_, exists := s.users[user.Username]
	s.users[user.Username] = user
	if exists {
		return domain.UpsertUpdated, nil
	}
	return domain.UpsertCreated, nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func plainAdminStore() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func adminActorCtx() context.Context {
	return service.WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := plainAdminStore()

	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, store)
	_, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Password == "admin123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestUpsertUserStoresPasswordHash(t *testing.T) {
	store := plainAdminStore()
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, store)

	resp, err := manager.UpsertUser(adminActorCtx(), domain.UserUpsertRequest{
		Username: "Counter2",
		Password: "pass1234",
		Role:     domain.RoleStaff,
	})
	if err != nil {
		t.Fatalf("upsert user failed: %v", err)
	}
	if resp.User.Username != "counter2" || resp.Result != domain.UpsertCreated {
		t.Fatalf("unexpected upsert response %+v", resp)
	}

	saved, ok := store.users["counter2"]
	if !ok {
		t.Fatalf("expected user to be saved")
	}
	if !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", saved.Password)
	}

	login, err := manager.Login(context.Background(), domain.LoginRequest{Username: "counter2", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login with new user failed: %v", err)
	}
	if login.Role != domain.RoleStaff {
		t.Fatalf("expected staff role, got %s", login.Role)
	}

	resp, err = manager.UpsertUser(adminActorCtx(), domain.UserUpsertRequest{
		Username: "counter2",
		Password: "newpass99",
		Role:     domain.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if resp.Result != domain.UpsertUpdated {
		t.Fatalf("expected updated, got %s", resp.Result)
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "counter2", Password: "pass1234"}); err == nil {
		t.Fatalf("expected old password to stop working")
	}
}

func TestUpsertUserValidatesAndGuardsRoles(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, plainAdminStore())

	staffCtx := service.WithActor(context.Background(), domain.Actor{Username: "staff", Role: domain.RoleStaff})
	if _, err := manager.UpsertUser(staffCtx, domain.UserUpsertRequest{Username: "intruder", Password: "secret1", Role: domain.RoleAdmin}); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for staff, got %v", err)
	}

	cases := []domain.UserUpsertRequest{
		{Username: "abc", Password: "secret1", Role: domain.RoleStaff},
		{Username: "has space", Password: "secret1", Role: domain.RoleStaff},
		{Username: "shorty", Password: "123", Role: domain.RoleStaff},
		{Username: "manager", Password: "secret1", Role: "manager"},
	}
	for _, req := range cases {
		_, err := manager.UpsertUser(adminActorCtx(), req)
		if apperr.CodeOf(err) != apperr.CodeValidation {
			t.Fatalf("expected validation error for %+v, got %v", req, err)
		}
	}

	_, err := manager.UpsertUser(adminActorCtx(), domain.UserUpsertRequest{Username: "admin", Password: "secret1", Role: domain.RoleStaff})
	if apperr.CodeOf(err) != apperr.CodeConflict {
		t.Fatalf("expected conflict on self demotion, got %v", err)
	}
}

func TestListUsersOmitsPasswords(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, plainAdminStore())

	users, err := manager.ListUsers(adminActorCtx())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 || users[0].Username != "admin" {
		t.Fatalf("unexpected users %+v", users)
	}
	if users[0].Password != "" {
		t.Fatalf("expected password to be omitted")
	}
}

func TestParseTokenRejectsForeignSecretAndInactiveLogin(t *testing.T) {
	store := plainAdminStore()
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, store)
	login, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	actor, err := manager.ParseToken(login.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}

	other := NewAuthManager(context.Background(), "another-secret", time.Hour, nil)
	if _, err := other.ParseToken(login.AccessToken); err == nil {
		t.Fatalf("expected token signed with a different secret to be rejected")
	}

	user := store.users["admin"]
	user.Active = false
	store.users["admin"] = user
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"}); err == nil {
		t.Fatalf("expected inactive account login to fail")
	}
}
