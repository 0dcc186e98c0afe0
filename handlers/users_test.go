package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/manojkumarsharma/bookstore/middleware"
	"github.com/manojkumarsharma/bookstore/models"
)

func TestChangePassword(t *testing.T) {
	u := userWithPassword(t, "secret1")
	p := &middleware.Principal{ID: u.ID, Kind: middleware.KindUser, Role: u.Role, User: u}
	db := &dbMock{}
	db.On("SetUserPassword", mock.Anything, u.ID, mock.MatchedBy(func(hash string) bool {
		return models.CheckPassword(hash, "secret2")
	})).Return(nil)
	h := &UsersHandler{Base: testBase(), Users: db}

	change := func(current string) (int, string) {
		body := map[string]any{"currentPassword": current, "newPassword": "secret2", "confirmPassword": "secret2"}
		rec := serve(http.MethodPut, "/password", h.ChangePassword, as(jsonRequest(t, http.MethodPut, "/password", body), p))
		return rec.Code, decode(t, rec).Message
	}

	code, msg := change("nope")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Current password is incorrect", msg)

	code, msg = change("secret1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Password changed successfully", msg)
	db.AssertNumberOfCalls(t, "SetUserPassword", 1)
}

func TestUpdateProfileNeedsFields(t *testing.T) {
	_, p := customer()
	h := &UsersHandler{Base: testBase(), Users: &dbMock{}}

	rec := serve(http.MethodPut, "/profile", h.UpdateProfile, as(jsonRequest(t, http.MethodPut, "/profile", map[string]any{}), p))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No fields to update", decode(t, rec).Message)
}

func TestSetRole(t *testing.T) {
	id := primitive.NewObjectID()
	db := &dbMock{}
	db.On("UpdateUserRole", mock.Anything, id, models.RoleModerator).Return(&models.User{ID: id, Role: models.RoleModerator}, nil)
	h := &UsersHandler{Base: testBase(), Users: db}

	set := func(role string) int {
		req := jsonRequest(t, http.MethodPut, "/users/"+id.Hex()+"/role", map[string]any{"role": role})
		return serve(http.MethodPut, "/users/{id}/role", h.SetRole, req).Code
	}

	assert.Equal(t, http.StatusBadRequest, set("overlord"))
	assert.Equal(t, http.StatusBadRequest, set(""))
	require.Equal(t, http.StatusOK, set(models.RoleModerator))
}

func TestDeactivateUser(t *testing.T) {
	id := primitive.NewObjectID()
	db := &dbMock{}
	db.On("SetUserActive", mock.Anything, id, false).Return(&models.User{ID: id}, nil)
	h := &UsersHandler{Base: testBase(), Users: db}

	rec := serve(http.MethodPut, "/users/{id}/deactivate", h.Deactivate, jsonRequest(t, http.MethodPut, "/users/"+id.Hex()+"/deactivate", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "User deactivated successfully", decode(t, rec).Message)
}
