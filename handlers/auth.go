package handlers

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/manojkumarsharma/bookstore/apperr"
	"github.com/manojkumarsharma/bookstore/metrics"
	"github.com/manojkumarsharma/bookstore/middleware"
	"github.com/manojkumarsharma/bookstore/models"
	"github.com/manojkumarsharma/bookstore/respond"
	"github.com/manojkumarsharma/bookstore/service"
)

// ResetTokenTTL is how long an emailed password reset link stays valid.
const ResetTokenTTL = time.Hour

const msgBadCredentials = "Invalid email or password."

type AuthHandler struct {
	Base
	Users  UserStore
	Tokens TokenIssuer
	Mail   Notifier
	// SecureCookies marks the token cookie Secure (production).
	SecureCookies bool
}

type RegisterRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SessionResponse struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

type field struct{ name, value string }

// missing returns the names of the blank fields, in order.
func missing(fields ...field) []string {
	var out []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			out = append(out, f.name)
		}
	}
	return out
}

func requireFields(fields ...field) error {
	if m := missing(fields...); len(m) > 0 {
		return apperr.Validation("All fields are required. Missing: "+strings.Join(m, ", "), m...)
	}
	return nil
}

func passwordError(err error) error {
	if errors.Is(err, models.ErrPasswordTooShort) {
		return apperr.Validation(fmt.Sprintf("Password must be at least %d characters long", models.MinPasswordLength), "password")
	}
	return err
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := requireFields(
		field{"name", req.Name},
		field{"email", req.Email},
		field{"password", req.Password},
		field{"confirmPassword", req.ConfirmPassword},
	); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Password != req.ConfirmPassword {
		h.fail(w, r, apperr.Validation("Passwords do not match", "confirmPassword"))
		return
	}
	if validate.Var(strings.TrimSpace(req.Email), "email") != nil {
		h.fail(w, r, apperr.Validation("Please provide a valid email", "email"))
		return
	}

	existing, err := h.Users.UserByEmail(r.Context(), models.NormalizeEmail(req.Email))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if existing != nil {
		h.fail(w, r, apperr.BadRequest("User with this email already exists"))
		return
	}
	user, err := models.NewUser(req.Name, req.Email, req.Password, h.now())
	if err != nil {
		h.fail(w, r, passwordError(err))
		return
	}
	if err := h.Users.CreateUser(r.Context(), user); err != nil {
		h.fail(w, r, err)
		return
	}
	token, err := h.Tokens.IssueUserToken(user)
	if err != nil {
		h.fail(w, r, apperr.Internal("could not create token", err))
		return
	}
	setTokenCookie(w, middleware.UserCookie, token, h.Tokens.TTL(), h.SecureCookies)
	h.Log.WithField("user_id", user.ID.Hex()).Info("user registered")
	respond.Created(w, "User registered successfully", SessionResponse{User: user, Token: token})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		h.fail(w, r, apperr.Validation("Email and password are required.", missing(field{"email", req.Email}, field{"password", req.Password})...))
		return
	}

	now := h.now()
	user, err := h.Users.UserByEmail(r.Context(), models.NormalizeEmail(req.Email))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if user == nil {
		metrics.RecordLoginFailure(middleware.KindUser, "unknown_email")
		h.fail(w, r, apperr.Unauthorized(msgBadCredentials))
		return
	}
	if !user.IsActive {
		metrics.RecordLoginFailure(middleware.KindUser, "inactive")
		h.fail(w, r, apperr.Unauthorized("Account is deactivated. Please contact support."))
		return
	}
	if user.IsLocked(now) {
		metrics.RecordLoginFailure(middleware.KindUser, "locked")
		h.fail(w, r, apperr.Locked("Account is temporarily locked due to too many failed login attempts. Please try again later."))
		return
	}
	if !user.CheckPassword(req.Password) {
		metrics.RecordLoginFailure(middleware.KindUser, "bad_password")
		updated, err := h.Users.RecordFailedLogin(r.Context(), user, now)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if updated != nil && updated.IsLocked(now) {
			h.Log.WithField("user_id", user.ID.Hex()).Warn("account locked after repeated failed logins")
		}
		h.fail(w, r, apperr.Unauthorized(msgBadCredentials))
		return
	}

	if err := h.Users.RecordSuccessfulLogin(r.Context(), user.ID, now); err != nil {
		h.fail(w, r, err)
		return
	}
	user.LoginAttempts = 0
	user.LockUntil = nil
	user.LastLogin = &now
	token, err := h.Tokens.IssueUserToken(user)
	if err != nil {
		h.fail(w, r, apperr.Internal("could not create token", err))
		return
	}
	setTokenCookie(w, middleware.UserCookie, token, h.Tokens.TTL(), h.SecureCookies)
	respond.Message(w, "Login successful.", SessionResponse{User: user, Token: token})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if p == nil || p.User == nil {
		h.fail(w, r, apperr.Unauthorized("Authentication required."))
		return
	}
	respond.OK(w, p.User)
}

// Logout clears the token cookie. The token itself stays valid until it expires.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if p := principal(r); p != nil {
		h.Log.WithField("user_id", p.ID.Hex()).Info("user signed out")
	}
	clearCookie(w, middleware.UserCookie, h.SecureCookies)
	respond.Message(w, "Logged out successfully.", nil)
}

func newResetToken() (token, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(buf)
	return token, hashToken(token), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ForgotPassword answers the same way whether or not the email is registered.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		h.fail(w, r, apperr.Validation("Email is required.", "email"))
		return
	}
	user, err := h.Users.UserByEmail(r.Context(), models.NormalizeEmail(req.Email))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if user != nil && user.IsActive {
		token, hash, err := newResetToken()
		if err != nil {
			h.fail(w, r, apperr.Internal("could not create reset token", err))
			return
		}
		if err := h.Users.SetPasswordReset(r.Context(), user.ID, hash, h.now().Add(ResetTokenTTL)); err != nil {
			h.fail(w, r, err)
			return
		}
		h.background(func(ctx context.Context) {
			err := h.Mail.PasswordReset(ctx, user, token, ResetTokenTTL)
			switch {
			case errors.Is(err, service.ErrMailDisabled):
				h.Log.WithField("user_id", user.ID.Hex()).Warn("password reset requested but mail is not configured")
			case err != nil:
				h.Log.WithError(err).WithField("user_id", user.ID.Hex()).Error("send password reset email")
			}
		})
	}
	respond.Message(w, "If an account with that email exists, a password reset link has been sent.", nil)
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token           string `json:"token"`
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirmPassword"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := requireFields(
		field{"token", req.Token},
		field{"password", req.Password},
		field{"confirmPassword", req.ConfirmPassword},
	); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Password != req.ConfirmPassword {
		h.fail(w, r, apperr.Validation("Passwords do not match", "confirmPassword"))
		return
	}
	user, err := h.Users.UserByResetToken(r.Context(), hashToken(strings.TrimSpace(req.Token)), h.now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if user == nil {
		h.fail(w, r, apperr.BadRequest("Password reset token is invalid or has expired."))
		return
	}
	hash, err := models.HashPassword(req.Password)
	if err != nil {
		h.fail(w, r, passwordError(err))
		return
	}
	if err := h.Users.SetUserPassword(r.Context(), user.ID, hash); err != nil {
		h.fail(w, r, err)
		return
	}
	h.Log.WithField("user_id", user.ID.Hex()).Info("password reset")
	respond.Message(w, "Password has been reset. You can now log in.", nil)
}
