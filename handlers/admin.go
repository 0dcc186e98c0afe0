package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/manojkumarsharma/bookstore/apperr"
	"github.com/manojkumarsharma/bookstore/metrics"
	"github.com/manojkumarsharma/bookstore/middleware"
	"github.com/manojkumarsharma/bookstore/models"
	"github.com/manojkumarsharma/bookstore/respond"
	"github.com/manojkumarsharma/bookstore/store"
	"github.com/manojkumarsharma/bookstore/utils"
)

type AdminHandler struct {
	Base
	Admins   AdminStore
	Tokens   TokenIssuer
	Stats    DashboardSource
	Settings SettingsStore
	// Sealer encrypts the SMTP password before it is saved.
	Sealer        *utils.Sealer
	SecureCookies bool
}

type AdminSession struct {
	Admin *models.Admin `json:"admin"`
	Token string        `json:"token"`
}

func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		h.fail(w, r, apperr.Validation("Email and password are required.", missing(field{"email", req.Email}, field{"password", req.Password})...))
		return
	}
	admin, err := h.Admins.AdminByEmail(r.Context(), models.NormalizeEmail(req.Email))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if admin == nil {
		metrics.RecordLoginFailure(middleware.KindAdmin, "unknown_email")
		h.fail(w, r, apperr.NotFound("Admin not found."))
		return
	}
	if !admin.CheckPassword(req.Password) {
		metrics.RecordLoginFailure(middleware.KindAdmin, "bad_password")
		h.fail(w, r, apperr.Unauthorized("Invalid credentials."))
		return
	}
	now := h.now()
	if err := h.Admins.TouchAdminLogin(r.Context(), admin.ID, now); err != nil {
		h.fail(w, r, err)
		return
	}
	admin.LastLogin = &now
	token, err := h.Tokens.IssueAdminToken(admin)
	if err != nil {
		h.fail(w, r, apperr.Internal("could not create token", err))
		return
	}
	setTokenCookie(w, middleware.AdminCookie, token, h.Tokens.TTL(), h.SecureCookies)
	h.Log.WithField("admin_id", admin.ID.Hex()).Info("admin signed in")
	respond.Message(w, "Login successful.", AdminSession{Admin: admin, Token: token})
}

func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	clearCookie(w, middleware.AdminCookie, h.SecureCookies)
	respond.Message(w, "Logged out successfully.", nil)
}

// Validate lets the admin panel check a stored token on page load.
func (h *AdminHandler) Validate(w http.ResponseWriter, r *http.Request) {
	respond.Message(w, "Token is valid.", map[string]any{"admin": principal(r).Admin})
}

type DashboardResponse struct {
	TotalUsers int64             `json:"totalUsers"`
	Books      *store.BookStats  `json:"books"`
	Orders     *store.OrderStats `json:"orders"`
}

func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	users, err := h.Stats.CountUsers(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	books, err := h.Stats.BookStats(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	orders, err := h.Stats.OrderStats(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.OK(w, DashboardResponse{TotalUsers: users, Books: books, Orders: orders})
}

func (h *AdminHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.Admins.ListAdmins(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.OK(w, admins)
}

type AdminRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email" validate:"omitempty,email"`
	Password *string `json:"password"`
}

func (h *AdminHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req AdminRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	str := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	if err := requireFields(
		field{"name", str(req.Name)},
		field{"email", str(req.Email)},
		field{"password", str(req.Password)},
	); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	admin, err := models.NewAdmin(*req.Name, *req.Email, *req.Password, h.now())
	if err != nil {
		h.fail(w, r, passwordError(err))
		return
	}
	if err := h.Admins.CreateAdmin(r.Context(), admin); err != nil {
		h.fail(w, r, err)
		return
	}
	h.Log.WithFields(logrus.Fields{"admin_id": admin.ID.Hex(), "by": principal(r).ID.Hex()}).Info("admin created")
	respond.Created(w, "Admin created successfully", admin)
}

func (h *AdminHandler) UpdateAdmin(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req AdminRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	set := map[string]any{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			h.fail(w, r, apperr.Validation("Name cannot be empty", "name"))
			return
		}
		set["name"] = name
	}
	if req.Email != nil {
		set["email"] = models.NormalizeEmail(*req.Email)
	}
	if req.Password != nil && *req.Password != "" {
		hash, err := models.HashPassword(*req.Password)
		if err != nil {
			h.fail(w, r, passwordError(err))
			return
		}
		set["password"] = hash
	}
	if len(set) == 0 {
		h.fail(w, r, apperr.BadRequest("No fields to update"))
		return
	}
	admin, err := h.Admins.UpdateAdmin(r.Context(), id, set)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if admin == nil {
		h.fail(w, r, apperr.NotFound("Admin not found."))
		return
	}
	respond.Message(w, "Admin updated successfully", admin)
}

// DeleteAdmin refuses to remove the caller's own account or the last remaining admin.
func (h *AdminHandler) DeleteAdmin(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if id == principal(r).ID {
		h.fail(w, r, apperr.BadRequest("You cannot delete your own account"))
		return
	}
	n, err := h.Admins.CountAdmins(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if n <= 1 {
		h.fail(w, r, apperr.BadRequest("Cannot delete the last admin"))
		return
	}
	ok, err := h.Admins.DeleteAdmin(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		h.fail(w, r, apperr.NotFound("Admin not found."))
		return
	}
	respond.Message(w, "Admin deleted successfully", nil)
}

// SettingsResponse never carries the SMTP password, only whether one is stored.
type SettingsResponse struct {
	*models.Settings
	SMTPPasswordSet bool `json:"smtpPasswordSet"`
}

func settingsView(s *models.Settings) SettingsResponse {
	return SettingsResponse{Settings: s, SMTPPasswordSet: s.SMTPPassword != ""}
}

func (h *AdminHandler) loadSettings(r *http.Request) (*models.Settings, error) {
	s, err := h.Settings.GetSettings(r.Context())
	if err != nil {
		return nil, err
	}
	if s == nil {
		s = models.DefaultSettings()
	}
	return s, nil
}

func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.loadSettings(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.OK(w, settingsView(s))
}

type SettingsRequest struct {
	StoreName          *string `json:"storeName"`
	ContactEmail       *string `json:"contactEmail" validate:"omitempty,email"`
	SMTPHost           *string `json:"smtpHost" validate:"omitempty,hostname_rfc1123|ip"`
	SMTPPort           *int    `json:"smtpPort" validate:"omitempty,min=1,max=65535"`
	SMTPUsername       *string `json:"smtpUsername"`
	SMTPPassword       *string `json:"smtpPassword"`
	SenderEmail        *string `json:"senderEmail" validate:"omitempty,email"`
	OrderNotifications *bool   `json:"orderNotifications"`
}

// UpdateSettings merges the provided fields. An empty smtpPassword clears it; an absent one keeps it.
func (h *AdminHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	s, err := h.loadSettings(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	setStr := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setStr(&s.StoreName, req.StoreName)
	setStr(&s.ContactEmail, req.ContactEmail)
	setStr(&s.SMTPHost, req.SMTPHost)
	setStr(&s.SMTPUsername, req.SMTPUsername)
	setStr(&s.SenderEmail, req.SenderEmail)
	if req.SMTPPort != nil {
		s.SMTPPort = *req.SMTPPort
	}
	if req.OrderNotifications != nil {
		s.OrderNotifications = *req.OrderNotifications
	}
	if req.SMTPPassword != nil {
		sealed, err := h.Sealer.Seal(*req.SMTPPassword)
		if err != nil {
			h.fail(w, r, apperr.Internal("could not encrypt SMTP password", err))
			return
		}
		if !h.Sealer.Enabled() && sealed != "" {
			h.Log.Warn("SETTINGS_ENCRYPTION_KEY is not set; SMTP password stored unencrypted")
		}
		s.SMTPPassword = sealed
	}
	s.UpdatedAt = h.now()
	if err := h.Settings.SaveSettings(r.Context(), s); err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Message(w, "Settings updated successfully", settingsView(s))
}

func (h *AdminHandler) EmailLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 || limit > store.MaxPageSize {
		limit = 50
	}
	logs, err := h.Settings.RecentEmailLogs(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.OK(w, logs)
}
