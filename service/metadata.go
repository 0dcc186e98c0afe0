package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var ErrISBNNotFound = errors.New("no volume found for isbn")

// googleBooksVolumesResp is the response from GET /volumes?q=isbn:...
type googleBooksVolumesResp struct {
	TotalItems int `json:"totalItems"`
	Items      []struct {
		VolumeInfo struct {
			Title               string   `json:"title"`
			Subtitle            string   `json:"subtitle"`
			Authors             []string `json:"authors"`
			PublishedDate       string   `json:"publishedDate"`
			Description         string   `json:"description"`
			Categories          []string `json:"categories"`
			Language            string   `json:"language"`
			IndustryIdentifiers []struct {
				Type       string `json:"type"`
				Identifier string `json:"identifier"`
			} `json:"industryIdentifiers"`
			AverageRating float64 `json:"averageRating"`
			RatingsCount  int     `json:"ratingsCount"`
		} `json:"volumeInfo"`
	} `json:"items"`
}

// BookDraft prefills the admin "add book" form. Price, stock and format are left to the admin.
type BookDraft struct {
	Title           string  `json:"title"`
	Author          string  `json:"author"`
	Description     string  `json:"description"`
	FullDescription string  `json:"fullDescription"`
	Year            int     `json:"year,omitempty"`
	Genre           string  `json:"genre,omitempty"`
	Language        string  `json:"language,omitempty"`
	Rating          float64 `json:"rating,omitempty"`
	Reviews         int     `json:"reviews,omitempty"`
	ISBN            string  `json:"isbn"`
	CoverImage      string  `json:"coverImage,omitempty"`
}

// ISBNLookup queries Google Books for catalog data.
type ISBNLookup struct {
	baseURL string
	client  *http.Client
}

func NewISBNLookup(baseURL string) *ISBNLookup {
	// short timeout so a hung upstream does not hold the admin request
	return &ISBNLookup{baseURL: baseURL, client: &http.Client{Timeout: 15 * time.Second}}
}

// Lookup fetches the first volume matching isbn.
func (l *ISBNLookup) Lookup(ctx context.Context, isbn string) (*BookDraft, error) {
	isbn = strings.ReplaceAll(strings.TrimSpace(isbn), "-", "")
	if isbn == "" {
		return nil, fmt.Errorf("isbn is required")
	}
	q := url.Values{}
	q.Set("q", "isbn:"+isbn)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google books returned %d", resp.StatusCode)
	}
	var data googleBooksVolumesResp
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	if data.TotalItems == 0 || len(data.Items) == 0 {
		return nil, fmt.Errorf("%w %s", ErrISBNNotFound, isbn)
	}
	vi := data.Items[0].VolumeInfo
	draft := &BookDraft{
		Title:           vi.Title,
		Author:          strings.Join(vi.Authors, ", "),
		FullDescription: strings.TrimSpace(vi.Description),
		Language:        languageName(vi.Language),
		Rating:          vi.AverageRating,
		Reviews:         vi.RatingsCount,
		ISBN:            isbn,
	}
	if vi.Subtitle != "" {
		draft.Title = draft.Title + ": " + vi.Subtitle
	}
	for _, id := range vi.IndustryIdentifiers {
		if id.Type == "ISBN_13" {
			draft.ISBN = id.Identifier
			break
		}
	}
	if len(vi.Categories) > 0 {
		draft.Genre = vi.Categories[0]
	}
	if len(vi.PublishedDate) >= 4 {
		draft.Year, _ = strconv.Atoi(vi.PublishedDate[:4])
	}
	draft.Description = summary(draft.FullDescription, 200)
	draft.CoverImage = openLibraryCoverURL(draft.ISBN, "L")
	return draft, nil
}

// openLibraryCoverURL returns a direct cover image URL by ISBN. Size: S, M or L.
func openLibraryCoverURL(isbn, size string) string {
	clean := strings.ReplaceAll(strings.TrimSpace(isbn), "-", "")
	if clean == "" {
		return ""
	}
	return "https://covers.openlibrary.org/b/isbn/" + url.PathEscape(clean) + "-" + size + ".jpg"
}

// summary cuts s to at most max runes, preferring a sentence or word boundary.
func summary(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	cut := string([]rune(s)[:max])
	if i := strings.LastIndex(cut, ". "); i > max/2 {
		return cut[:i+1]
	}
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, ",;:") + "..."
}

var languageCodes = map[string]string{
	"en": "English", "es": "Spanish", "fr": "French", "de": "German", "it": "Italian", "pt": "Portuguese",
	"ru": "Russian", "zh": "Chinese", "ja": "Japanese", "ko": "Korean", "ar": "Arabic", "hi": "Hindi",
	"bn": "Bengali", "ur": "Urdu", "tr": "Turkish", "nl": "Dutch", "ta": "Tamil", "te": "Telugu",
	"mr": "Marathi", "gu": "Gujarati", "pa": "Punjabi", "ml": "Malayalam", "kn": "Kannada",
}

func languageName(code string) string {
	if name, ok := languageCodes[strings.ToLower(code)]; ok {
		return name
	}
	return ""
}
