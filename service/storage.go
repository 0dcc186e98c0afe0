package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Upload destinations.
const (
	DirAdmin = "admin"
	DirBooks = "books"
	DirUsers = "users"
	DirTemp  = "temp"
)

var Dirs = []string{DirAdmin, DirBooks, DirUsers, DirTemp}

// URLPrefix is where uploaded files are served from.
const URLPrefix = "/uploads/"

var ErrFileNotFound = errors.New("file not found")

type StoredFile struct {
	Filename    string    `json:"filename"`
	Directory   string    `json:"directory"`
	Size        int64     `json:"size"`
	ContentType string    `json:"mimetype,omitempty"`
	URL         string    `json:"url"`
	Modified    time.Time `json:"modified"`
}

// FileStore keeps uploaded images. Files are addressed by destination directory and name;
// Resolve maps a stored URL back to that pair for files this store owns.
type FileStore interface {
	Save(ctx context.Context, dir, name string, body io.Reader, contentType string) (StoredFile, error)
	Remove(ctx context.Context, dir, name string) error
	Stat(ctx context.Context, dir, name string) (StoredFile, error)
	List(ctx context.Context, dir string) ([]StoredFile, error)
	Resolve(url string) (dir, name string, ok bool)
	CleanupTemp(ctx context.Context, maxAge time.Duration) (int, error)
}

// UploadName builds "<base>-<unix millis>-<random><ext>" from the client's file name.
func UploadName(original string, now time.Time) string {
	original = filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	ext := strings.ToLower(filepath.Ext(original))
	base := strings.TrimSuffix(original, filepath.Ext(original))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, base)
	if base == "" {
		base = "file"
	}
	return fmt.Sprintf("%s-%d-%d%s", base, now.UnixMilli(), rand.IntN(1e9), ext)
}

func validDir(dir string) bool {
	for _, d := range Dirs {
		if d == dir {
			return true
		}
	}
	return false
}

// validName rejects anything that could step outside the destination directory.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`) && !strings.Contains(name, "\x00")
}

// splitUploadPath parses "<dir>/<name>" found after the uploads prefix of a URL or path.
func splitUploadPath(raw string) (string, string, bool) {
	i := strings.Index(raw, URLPrefix)
	if i < 0 {
		return "", "", false
	}
	rest := raw[i+len(URLPrefix):]
	if j := strings.IndexAny(rest, "?#"); j >= 0 {
		rest = rest[:j]
	}
	dir, name, ok := strings.Cut(rest, "/")
	if !ok || !validDir(dir) || !validName(name) {
		return "", "", false
	}
	return dir, name, true
}

// LocalStore writes uploads under root/<dir>/<name>.
type LocalStore struct {
	root string
	log  logrus.FieldLogger
	now  func() time.Time
}

func NewLocalStore(root string, log logrus.FieldLogger) (*LocalStore, error) {
	for _, d := range Dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("create upload dir: %w", err)
		}
	}
	return &LocalStore{root: root, log: log, now: time.Now}, nil
}

func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) path(dir, name string) (string, error) {
	if !validDir(dir) || !validName(name) {
		return "", ErrFileNotFound
	}
	return filepath.Join(s.root, dir, name), nil
}

func (s *LocalStore) info(dir, name string, fi os.FileInfo) StoredFile {
	return StoredFile{
		Filename:  name,
		Directory: dir,
		Size:      fi.Size(),
		URL:       URLPrefix + path.Join(dir, name),
		Modified:  fi.ModTime(),
	}
}

func (s *LocalStore) Save(_ context.Context, dir, name string, body io.Reader, contentType string) (StoredFile, error) {
	p, err := s.path(dir, name)
	if err != nil {
		return StoredFile{}, fmt.Errorf("invalid upload target %s/%s", dir, name)
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return StoredFile{}, err
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(p)
		return StoredFile{}, err
	}
	return StoredFile{
		Filename:    name,
		Directory:   dir,
		Size:        n,
		ContentType: contentType,
		URL:         URLPrefix + path.Join(dir, name),
		Modified:    s.now(),
	}, nil
}

func (s *LocalStore) Remove(_ context.Context, dir, name string) error {
	p, err := s.path(dir, name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrFileNotFound
		}
		return err
	}
	return nil
}

func (s *LocalStore) Stat(_ context.Context, dir, name string) (StoredFile, error) {
	p, err := s.path(dir, name)
	if err != nil {
		return StoredFile{}, err
	}
	fi, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) || (err == nil && fi.IsDir()) {
		return StoredFile{}, ErrFileNotFound
	}
	if err != nil {
		return StoredFile{}, err
	}
	return s.info(dir, name, fi), nil
}

// List returns the files in dir, newest first.
func (s *LocalStore) List(_ context.Context, dir string) ([]StoredFile, error) {
	if !validDir(dir) {
		return nil, ErrFileNotFound
	}
	entries, err := os.ReadDir(filepath.Join(s.root, dir))
	if err != nil {
		return nil, err
	}
	files := []StoredFile{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, s.info(dir, e.Name(), fi))
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Modified.After(files[j].Modified) })
	return files, nil
}

func (s *LocalStore) Resolve(url string) (string, string, bool) {
	return splitUploadPath(url)
}

// CleanupTemp deletes temp files last modified more than maxAge ago and reports how many went.
func (s *LocalStore) CleanupTemp(ctx context.Context, maxAge time.Duration) (int, error) {
	files, err := s.List(ctx, DirTemp)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, f := range files {
		if !f.Modified.Before(cutoff) {
			continue
		}
		if err := s.Remove(ctx, DirTemp, f.Filename); err != nil && !errors.Is(err, ErrFileNotFound) {
			s.log.WithError(err).WithField("file", f.Filename).Warn("could not remove temp file")
			continue
		}
		removed++
	}
	return removed, nil
}
