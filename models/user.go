package models

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

const (
	RoleUser      = "user"
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
)

var ValidRoles = []string{RoleUser, RoleAdmin, RoleModerator}

const (
	MaxLoginAttempts  = 5
	LockDuration      = 2 * time.Hour
	MinPasswordLength = 6
	BcryptCost        = 10
)

var ErrPasswordTooShort = errors.New("password must be at least 6 characters")

type Preferences struct {
	Newsletter    bool `bson:"newsletter" json:"newsletter"`
	Notifications bool `bson:"notifications" json:"notifications"`
}

type User struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Name     string             `bson:"name" json:"name"`
	Email    string             `bson:"email" json:"email"`
	Password string             `bson:"password" json:"-"` // bcrypt hash
	Role     string             `bson:"role" json:"role"`
	Avatar   string             `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Phone    string             `bson:"phone,omitempty" json:"phone,omitempty"`
	Address  string             `bson:"address,omitempty" json:"address,omitempty"`
	City     string             `bson:"city,omitempty" json:"city,omitempty"`
	State    string             `bson:"state,omitempty" json:"state,omitempty"`
	ZipCode  string             `bson:"zipCode,omitempty" json:"zipCode,omitempty"`

	IsEmailVerified          bool       `bson:"isEmailVerified" json:"isEmailVerified"`
	EmailVerificationToken   string     `bson:"emailVerificationToken,omitempty" json:"-"`
	EmailVerificationExpires *time.Time `bson:"emailVerificationExpires,omitempty" json:"-"`
	PasswordResetToken       string     `bson:"passwordResetToken,omitempty" json:"-"` // sha256 hex of the emailed token
	PasswordResetExpires     *time.Time `bson:"passwordResetExpires,omitempty" json:"-"`

	LastLogin     *time.Time `bson:"lastLogin,omitempty" json:"lastLogin,omitempty"`
	LoginAttempts int        `bson:"loginAttempts" json:"-"`
	LockUntil     *time.Time `bson:"lockUntil,omitempty" json:"-"`

	IsActive    bool        `bson:"isActive" json:"isActive"`
	Preferences Preferences `bson:"preferences" json:"preferences"`
	CreatedAt   time.Time   `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time   `bson:"updatedAt" json:"updatedAt"`
}

// NewUser builds a ready-to-insert account: trimmed name, lowercased email, hashed password,
// default avatar and preferences.
func NewUser(name, email, password string, now time.Time) (*User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	return &User{
		Name:        name,
		Email:       NormalizeEmail(email),
		Password:    hash,
		Role:        RoleUser,
		Avatar:      DefaultAvatar(name),
		IsActive:    true,
		Preferences: Preferences{Newsletter: true, Notifications: true},
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DefaultAvatar is the generated initials image used until the user uploads one.
func DefaultAvatar(name string) string {
	escaped := strings.ReplaceAll(url.QueryEscape(strings.TrimSpace(name)), "+", "%20")
	return "https://ui-avatars.com/api/?name=" + escaped + "&background=random&color=fff"
}

func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (u *User) CheckPassword(password string) bool {
	return CheckPassword(u.Password, password)
}

func (u *User) IsLocked(now time.Time) bool {
	return u.LockUntil != nil && u.LockUntil.After(now)
}

// FailedLogin computes the counters after one more bad password.
// An expired lock starts a fresh count; reaching MaxLoginAttempts locks the account for LockDuration.
func (u *User) FailedLogin(now time.Time) (int, *time.Time) {
	if u.LockUntil != nil && !u.LockUntil.After(now) {
		return 1, nil
	}
	attempts := u.LoginAttempts + 1
	lock := u.LockUntil
	if attempts >= MaxLoginAttempts && !u.IsLocked(now) {
		until := now.Add(LockDuration)
		lock = &until
	}
	return attempts, lock
}

func IsValidRole(role string) bool {
	return contains(ValidRoles, role)
}

// ProfileInput carries the self-service profile fields.
type ProfileInput struct {
	Name        *string      `json:"name"`
	Phone       *string      `json:"phone"`
	Address     *string      `json:"address"`
	City        *string      `json:"city"`
	State       *string      `json:"state"`
	ZipCode     *string      `json:"zipCode"`
	Avatar      *string      `json:"avatar"`
	Preferences *Preferences `json:"preferences"`
}

// Fields returns the $set document for the provided fields.
func (p *ProfileInput) Fields() map[string]any {
	out := map[string]any{}
	put := func(key string, v *string) {
		if v != nil {
			out[key] = strings.TrimSpace(*v)
		}
	}
	put("name", p.Name)
	put("phone", p.Phone)
	put("address", p.Address)
	put("city", p.City)
	put("state", p.State)
	put("zipCode", p.ZipCode)
	put("avatar", p.Avatar)
	if p.Preferences != nil {
		out["preferences"] = *p.Preferences
	}
	return out
}
