package respond

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/manojkumarsharma/bookstore/apperr"
)

// Envelope is the body shape of every API response.
type Envelope struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message,omitempty"`
	Data       any         `json:"data,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      string      `json:"error,omitempty"`
	Fields     []string    `json:"fields,omitempty"`
}

type Pagination struct {
	CurrentPage int   `json:"currentPage"`
	TotalPages  int   `json:"totalPages"`
	Total       int64 `json:"total"`
	HasNextPage bool  `json:"hasNextPage"`
	HasPrevPage bool  `json:"hasPrevPage"`
}

func NewPagination(page, limit int, total int64) *Pagination {
	pages := 0
	if limit > 0 {
		pages = int((total + int64(limit) - 1) / int64(limit))
	}
	return &Pagination{
		CurrentPage: page,
		TotalPages:  pages,
		Total:       total,
		HasNextPage: page < pages,
		HasPrevPage: page > 1,
	}
}

func JSON(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

func Message(w http.ResponseWriter, message string, data any) {
	JSON(w, http.StatusOK, Envelope{Success: true, Message: message, Data: data})
}

func Created(w http.ResponseWriter, message string, data any) {
	JSON(w, http.StatusCreated, Envelope{Success: true, Message: message, Data: data})
}

func Page(w http.ResponseWriter, data any, p *Pagination) {
	JSON(w, http.StatusOK, Envelope{Success: true, Data: data, Pagination: p})
}

// Fail writes the error envelope for err and returns the status it chose.
// The raw text of unexpected errors is only included when debug is set.
func Fail(w http.ResponseWriter, err error, debug bool) int {
	status, body := classify(err)
	if status == http.StatusInternalServerError && debug {
		body.Error = err.Error()
	}
	JSON(w, status, body)
	return status
}

func classify(err error) (int, Envelope) {
	if e, ok := apperr.As(err); ok {
		status := e.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return status, Envelope{Message: e.Message, Fields: e.Fields}
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		return http.StatusBadRequest, Envelope{
			Message: "Validation failed: " + strings.Join(fields, ", "),
			Fields:  fields,
		}
	}

	// the store names the field where it can; this covers writes it did not wrap
	if mongo.IsDuplicateKeyError(err) {
		return http.StatusBadRequest, Envelope{Message: "Duplicate value"}
	}

	if errors.Is(err, mongo.ErrNoDocuments) {
		return http.StatusNotFound, Envelope{Message: "Resource not found"}
	}

	return http.StatusInternalServerError, Envelope{Message: "Internal server error"}
}

// RouteNotFound is the catch-all for unmatched paths.
func RouteNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": "Route not found",
		"path":    r.URL.Path,
		"method":  r.Method,
	})
}
