package handlers

import (
	"net/http"
	"strings"

	"github.com/manojkumarsharma/bookstore/apperr"
	"github.com/manojkumarsharma/bookstore/models"
	"github.com/manojkumarsharma/bookstore/respond"
	"github.com/manojkumarsharma/bookstore/store"
)

const userPageSize = 10

type UsersHandler struct {
	Base
	Users UserStore
}

// UpdateUserRequest is what an admin may change on any account.
type UpdateUserRequest struct {
	models.ProfileInput
	Email    *string `json:"email"`
	Role     *string `json:"role"`
	IsActive *bool   `json:"isActive"`
}

func checkName(fields map[string]any) error {
	if name, ok := fields["name"]; ok && name == "" {
		return apperr.Validation("Name cannot be empty", "name")
	}
	return nil
}

// UpdateProfile lets the signed-in user edit their own profile.
func (h *UsersHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	var in models.ProfileInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	fields := in.Fields()
	if len(fields) == 0 {
		h.fail(w, r, apperr.BadRequest("No fields to update"))
		return
	}
	if err := checkName(fields); err != nil {
		h.fail(w, r, err)
		return
	}
	user, err := h.Users.UpdateUserProfile(r.Context(), p.ID, fields)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if user == nil {
		h.fail(w, r, apperr.NotFound("User not found."))
		return
	}
	respond.Message(w, "Profile updated successfully", user)
}

func (h *UsersHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
		ConfirmPassword string `json:"confirmPassword"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := requireFields(
		field{"currentPassword", req.CurrentPassword},
		field{"newPassword", req.NewPassword},
		field{"confirmPassword", req.ConfirmPassword},
	); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.NewPassword != req.ConfirmPassword {
		h.fail(w, r, apperr.Validation("Passwords do not match", "confirmPassword"))
		return
	}
	if !p.User.CheckPassword(req.CurrentPassword) {
		h.fail(w, r, apperr.Validation("Current password is incorrect", "currentPassword"))
		return
	}
	hash, err := models.HashPassword(req.NewPassword)
	if err != nil {
		h.fail(w, r, passwordError(err))
		return
	}
	if err := h.Users.SetUserPassword(r.Context(), p.ID, hash); err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Message(w, "Password changed successfully", nil)
}

func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	role := strings.TrimSpace(q.Get("role"))
	if role != "" && !models.IsValidRole(role) {
		h.fail(w, r, apperr.Validation("Invalid role", "role"))
		return
	}
	page, limit := store.PageParams(q, userPageSize)
	users, total, err := h.Users.ListUsers(r.Context(), strings.TrimSpace(q.Get("search")), role, page, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Page(w, users, respond.NewPagination(page, limit, total))
}

func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	user, err := h.Users.UserByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if user == nil {
		h.fail(w, r, apperr.NotFound("User not found."))
		return
	}
	respond.OK(w, user)
}

func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in UpdateUserRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	fields := in.Fields()
	if in.Email != nil {
		email := models.NormalizeEmail(*in.Email)
		if validate.Var(email, "required,email") != nil {
			h.fail(w, r, apperr.Validation("Please provide a valid email", "email"))
			return
		}
		fields["email"] = email
	}
	if in.Role != nil {
		if !models.IsValidRole(*in.Role) {
			h.fail(w, r, apperr.Validation("Invalid role", "role"))
			return
		}
		fields["role"] = *in.Role
	}
	if in.IsActive != nil {
		fields["isActive"] = *in.IsActive
	}
	if len(fields) == 0 {
		h.fail(w, r, apperr.BadRequest("No fields to update"))
		return
	}
	if err := checkName(fields); err != nil {
		h.fail(w, r, err)
		return
	}
	user, err := h.Users.UpdateUserProfile(r.Context(), id, fields)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if user == nil {
		h.fail(w, r, apperr.NotFound("User not found."))
		return
	}
	respond.Message(w, "User updated successfully", user)
}

func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok, err := h.Users.DeleteUser(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		h.fail(w, r, apperr.NotFound("User not found."))
		return
	}
	h.Log.WithField("user_id", id.Hex()).Info("user deleted")
	respond.Message(w, "User deleted successfully.", nil)
}

// SetRole, Activate and Deactivate back the admin panel's user management screen.
func (h *UsersHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req struct {
		Role string `json:"role" validate:"required"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	if !models.IsValidRole(req.Role) {
		h.fail(w, r, apperr.Validation("Invalid role", "role"))
		return
	}
	user, err := h.Users.UpdateUserRole(r.Context(), id, req.Role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if user == nil {
		h.fail(w, r, apperr.NotFound("User not found."))
		return
	}
	respond.Message(w, "User role updated successfully", user)
}

func (h *UsersHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *UsersHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *UsersHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	user, err := h.Users.SetUserActive(r.Context(), id, active)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if user == nil {
		h.fail(w, r, apperr.NotFound("User not found."))
		return
	}
	msg := "User deactivated successfully"
	if active {
		msg = "User activated successfully"
	}
	respond.Message(w, msg, user)
}
