package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/manojkumarsharma/bookstore/apperr"
	"github.com/manojkumarsharma/bookstore/metrics"
	"github.com/manojkumarsharma/bookstore/models"
	"github.com/manojkumarsharma/bookstore/respond"
	"github.com/manojkumarsharma/bookstore/service"
)

const (
	MaxUploadSize  = 5 << 20
	MaxUploadFiles = 10

	TempMaxAge = 24 * time.Hour
)

// form fields accepted by each kind of upload, with how many files each may carry
var (
	singleImage    = map[string]int{"image": 1}
	multipleImages = map[string]int{"images": MaxUploadFiles}
	bookImages     = map[string]int{"coverImage": 1, "galleryImages": 5}
)

var imageExts = map[string]bool{".jpeg": true, ".jpg": true, ".png": true, ".gif": true, ".webp": true}

type UploadHandler struct {
	Base
	Files service.FileStore
	// Users stores the new avatar URL.
	Users UserStore
}

type UploadedFile struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"originalname"`
	MimeType     string `json:"mimetype"`
	Size         int64  `json:"size"`
	URL          string `json:"url"`
	Path         string `json:"path"`
}

// isImage wants both an allowed extension and a matching declared type.
func isImage(filename, contentType string) bool {
	if !imageExts[strings.ToLower(filepath.Ext(filename))] {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	sub, ok := strings.CutPrefix(mt, "image/")
	return ok && imageExts["."+sub]
}

// uploadDir picks the destination directory from the route the files were posted to.
func uploadDir(path string) string {
	switch {
	case strings.Contains(path, "/admin"):
		return service.DirAdmin
	case strings.Contains(path, "/book-images"), strings.HasSuffix(path, "/image"):
		return service.DirBooks
	case strings.Contains(path, "/users"):
		return service.DirUsers
	}
	return service.DirTemp
}

func (h *UploadHandler) describe(r *http.Request, f service.StoredFile, original string) UploadedFile {
	return UploadedFile{
		Filename:     f.Filename,
		OriginalName: original,
		MimeType:     f.ContentType,
		Size:         f.Size,
		URL:          absoluteURL(r, f.URL),
		Path:         strings.TrimPrefix(service.URLPrefix, "/") + f.Directory + "/" + f.Filename,
	}
}

// receive streams every file part of a multipart body into the store. Non-file parts are skipped.
// If any part is rejected, files already written for this request are removed again.
func (h *UploadHandler) receive(w http.ResponseWriter, r *http.Request, fields map[string]int) (map[string][]UploadedFile, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadFiles*(MaxUploadSize+1)+1<<20)
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, apperr.BadRequest("Expected a multipart/form-data upload.")
	}
	dir := uploadDir(r.URL.Path)
	out := map[string][]UploadedFile{}
	var saved []service.StoredFile
	done := false
	defer func() {
		if done {
			return
		}
		ctx := context.WithoutCancel(r.Context())
		for _, f := range saved {
			if err := h.Files.Remove(ctx, f.Directory, f.Filename); err != nil {
				h.Log.WithError(err).WithField("file", f.Filename).Warn("could not remove rejected upload")
			}
		}
	}()

	for count := 0; ; {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, uploadReadError(err)
		}
		if part.FileName() == "" {
			part.Close()
			continue
		}
		field := part.FormName()
		limit, known := fields[field]
		if !known || len(out[field]) >= limit {
			return nil, apperr.BadRequest("Unexpected file field.")
		}
		if count++; count > MaxUploadFiles {
			return nil, apperr.BadRequest(fmt.Sprintf("Too many files. Maximum is %d files.", MaxUploadFiles))
		}
		contentType := part.Header.Get("Content-Type")
		if !isImage(part.FileName(), contentType) {
			return nil, apperr.BadRequest("Only image files are allowed!")
		}

		body := &io.LimitedReader{R: part, N: MaxUploadSize + 1}
		stored, err := h.Files.Save(r.Context(), dir, service.UploadName(part.FileName(), h.now()), body, contentType)
		part.Close()
		if err != nil {
			return nil, uploadReadError(err)
		}
		saved = append(saved, stored)
		if body.N == 0 {
			return nil, apperr.BadRequest("File too large. Maximum size is 5MB.")
		}
		out[field] = append(out[field], h.describe(r, stored, filepath.Base(part.FileName())))
	}
	done = true
	if len(saved) > 0 {
		metrics.RecordUpload(dir, len(saved))
	}
	return out, nil
}

func uploadReadError(err error) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return apperr.BadRequest("File too large. Maximum size is 5MB.")
	}
	return apperr.Wrap(http.StatusBadRequest, "Malformed upload.", err)
}

// Single handles one file in the "image" field.
func (h *UploadHandler) Single(w http.ResponseWriter, r *http.Request) {
	files, err := h.receive(w, r, singleImage)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(files["image"]) == 0 {
		h.fail(w, r, apperr.BadRequest("No file uploaded."))
		return
	}
	respond.Message(w, "File uploaded successfully.", files["image"][0])
}

// Multiple handles up to ten files in the "images" field.
func (h *UploadHandler) Multiple(w http.ResponseWriter, r *http.Request) {
	files, err := h.receive(w, r, multipleImages)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list := files["images"]
	if len(list) == 0 {
		h.fail(w, r, apperr.BadRequest("No files uploaded."))
		return
	}
	respond.Message(w, fmt.Sprintf("%d files uploaded successfully.", len(list)), list)
}

type BookImages struct {
	CoverImage    *UploadedFile  `json:"coverImage"`
	GalleryImages []UploadedFile `json:"galleryImages"`
}

// BookImages takes a cover and up to five gallery images in one request.
func (h *UploadHandler) BookImages(w http.ResponseWriter, r *http.Request) {
	files, err := h.receive(w, r, bookImages)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(files) == 0 {
		h.fail(w, r, apperr.BadRequest("No files uploaded."))
		return
	}
	res := BookImages{GalleryImages: []UploadedFile{}}
	if c := files["coverImage"]; len(c) > 0 {
		res.CoverImage = &c[0]
	}
	res.GalleryImages = append(res.GalleryImages, files["galleryImages"]...)
	respond.Message(w, "Files uploaded successfully.", res)
}

// Avatar replaces the signed-in user's avatar with the uploaded image.
func (h *UploadHandler) Avatar(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	files, err := h.receive(w, r, singleImage)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(files["image"]) == 0 {
		h.fail(w, r, apperr.BadRequest("No file uploaded."))
		return
	}
	file := files["image"][0]
	previous := p.User.Avatar
	user, err := h.Users.UpdateUserProfile(r.Context(), p.ID, map[string]any{"avatar": file.URL})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if user == nil {
		h.fail(w, r, apperr.NotFound("User not found."))
		return
	}
	if dir, name, ok := h.Files.Resolve(previous); ok && dir == service.DirUsers {
		if err := h.Files.Remove(r.Context(), dir, name); err != nil && !errors.Is(err, service.ErrFileNotFound) {
			h.Log.WithError(err).WithField("avatar", previous).Warn("could not remove previous avatar")
		}
	}
	respond.Message(w, "Avatar updated successfully.", map[string]any{"user": user, "file": file})
}

type FileInfo struct {
	Filename  string    `json:"filename"`
	Directory string    `json:"directory"`
	Size      int64     `json:"size"`
	Modified  time.Time `json:"modified"`
	URL       string    `json:"url"`
}

func (h *UploadHandler) info(r *http.Request, f service.StoredFile) FileInfo {
	return FileInfo{Filename: f.Filename, Directory: f.Directory, Size: f.Size, Modified: f.Modified, URL: absoluteURL(r, f.URL)}
}

// dirsFor returns the directories named by ?directory=, or all of them.
func dirsFor(r *http.Request) ([]string, error) {
	d := strings.TrimSpace(r.URL.Query().Get("directory"))
	if d == "" {
		return service.Dirs, nil
	}
	for _, known := range service.Dirs {
		if d == known {
			return []string{d}, nil
		}
	}
	return nil, apperr.NotFound("Directory not found.")
}

func (h *UploadHandler) List(w http.ResponseWriter, r *http.Request) {
	dirs, err := dirsFor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	files := []FileInfo{}
	for _, d := range dirs {
		list, err := h.Files.List(r.Context(), d)
		if errors.Is(err, service.ErrFileNotFound) {
			continue
		}
		if err != nil {
			h.fail(w, r, err)
			return
		}
		for _, f := range list {
			files = append(files, h.info(r, f))
		}
	}
	respond.OK(w, files)
}

// find locates filename in the requested directory, or the first directory that has it.
func (h *UploadHandler) find(r *http.Request) (service.StoredFile, error) {
	name := chi.URLParam(r, "filename")
	if strings.TrimSpace(name) == "" {
		return service.StoredFile{}, apperr.BadRequest("Filename is required.")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return service.StoredFile{}, apperr.NotFound("File not found.")
	}
	dirs, err := dirsFor(r)
	if err != nil {
		return service.StoredFile{}, err
	}
	for _, d := range dirs {
		f, err := h.Files.Stat(r.Context(), d, name)
		if errors.Is(err, service.ErrFileNotFound) {
			continue
		}
		return f, err
	}
	return service.StoredFile{}, apperr.NotFound("File not found.")
}

func (h *UploadHandler) Info(w http.ResponseWriter, r *http.Request) {
	f, err := h.find(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.OK(w, h.info(r, f))
}

// Delete removes an uploaded file. Customers may only remove files from the users and temp directories.
func (h *UploadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	f, err := h.find(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p := principal(r)
	staff := p != nil && (p.Role == models.RoleAdmin || p.Role == models.RoleModerator)
	if !staff && f.Directory != service.DirUsers && f.Directory != service.DirTemp {
		h.fail(w, r, apperr.Forbidden("You are not allowed to delete this file."))
		return
	}
	if err := h.Files.Remove(r.Context(), f.Directory, f.Filename); err != nil {
		if errors.Is(err, service.ErrFileNotFound) {
			err = apperr.NotFound("File not found.")
		}
		h.fail(w, r, err)
		return
	}
	respond.Message(w, "File deleted successfully.", nil)
}

// Cleanup sweeps temp uploads older than a day.
func (h *UploadHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	n, err := h.Files.CleanupTemp(r.Context(), TempMaxAge)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Log.WithField("removed", n).Info("temp uploads cleaned up")
	respond.Message(w, fmt.Sprintf("%d temporary files cleaned up.", n), map[string]int{"deletedCount": n})
}
