package store

import (
	"net/http"
	"regexp"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/manojkumarsharma/bookstore/apperr"
)

var (
	dupKeyField = regexp.MustCompile(`dup key: \{ ?"?(\w+)"?\s*:`)
	dupKeyIndex = regexp.MustCompile(`index: (\w+?)_(?:1|-1|unique\w*)\b`)
)

// DuplicateKeyField names the field behind a duplicate-key error, or "" if err is not one.
func DuplicateKeyField(err error) string {
	if err == nil || !mongo.IsDuplicateKeyError(err) {
		return ""
	}
	msg := err.Error()
	if m := dupKeyField.FindStringSubmatch(msg); m != nil {
		return m[1]
	}
	if m := dupKeyIndex.FindStringSubmatch(msg); m != nil {
		return m[1]
	}
	return ""
}

// duplicate turns a duplicate-key error into a 400 naming the field. messages overrides the text per field.
func duplicate(err error, messages map[string]string) error {
	if !mongo.IsDuplicateKeyError(err) {
		return err
	}
	field := DuplicateKeyField(err)
	if msg, ok := messages[field]; ok {
		return &apperr.Error{Status: http.StatusBadRequest, Message: msg, Fields: []string{field}, Err: err}
	}
	d := apperr.Duplicate(field)
	d.Err = err
	return d
}
