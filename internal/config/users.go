package config

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"hddbrowser/internal/domain"
)

// User is one configured account. Password holds a bcrypt hash or, for legacy
// setups, the plaintext secret.
type User struct {
	Username string   `json:"username" validate:"required,excludesall=/\\"`
	Password string   `json:"password" validate:"required"`
	Roles    []string `json:"roles" validate:"dive,oneof=admin uploader deleter viewer"`
	Roots    []string `json:"roots"`
}

func (u User) Caps() domain.Capability {
	return domain.CapsForRoles(u.Roles)
}

func (u User) Principal() domain.Principal {
	return domain.Principal{Username: u.Username, Caps: u.Caps(), Roots: u.Roots}
}

func isBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// CheckPassword compares in constant time for plaintext and via bcrypt for hashes.
func (u User) CheckPassword(password string) bool {
	if isBcrypt(u.Password) {
		return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) == 1
}

// HashPassword produces a bcrypt hash suitable for the users file.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// FindUser looks a user up by name.
func (c *Config) FindUser(name string) (User, bool) {
	for _, u := range c.Users {
		if u.Username == name {
			return u, true
		}
	}
	return User{}, false
}

// loadUsers merges USERS_FILE, inline USERS_JSON and the legacy AUTH_USERNAME admin.
func loadUsers() ([]User, error) {
	var users []User

	if path := getEnv("USERS_FILE", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read users file: %w", err)
		}
		parsed, err := parseUsers(raw)
		if err != nil {
			return nil, fmt.Errorf("users file %s: %w", path, err)
		}
		users = append(users, parsed...)
	}

	if raw := strings.TrimSpace(getEnv("USERS_JSON", "")); raw != "" {
		parsed, err := parseUsers([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("USERS_JSON: %w", err)
		}
		users = append(users, parsed...)
	}

	name := strings.TrimSpace(getEnv("AUTH_USERNAME", ""))
	pass := getEnv("AUTH_PASSWORD", "")
	if name != "" && pass != "" {
		exists := false
		for _, u := range users {
			if u.Username == name {
				exists = true
				break
			}
		}
		if !exists {
			users = append(users, User{Username: name, Password: pass, Roles: []string{"admin"}})
		}
	}
	return users, nil
}

func parseUsers(raw []byte) ([]User, error) {
	var users []User
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	out := users[:0]
	for _, u := range users {
		u.Username = strings.TrimSpace(u.Username)
		if u.Username == "" {
			continue
		}
		roles := make([]string, 0, len(u.Roles))
		for _, r := range u.Roles {
			roles = append(roles, strings.ToLower(strings.TrimSpace(r)))
		}
		u.Roles = roles
		out = append(out, u)
	}
	return out, nil
}
