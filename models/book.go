package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	FormatHardcover = "Hardcover"
	FormatPaperback = "Paperback"
	FormatEBook     = "eBook"

	DefaultLanguage = "English"
	MinBookYear     = 1000
)

var Formats = []string{FormatHardcover, FormatPaperback, FormatEBook}

// Languages accepted for a book. Anything else is stored as DefaultLanguage.
var Languages = []string{
	"English", "Spanish", "French", "German", "Italian", "Portuguese", "Russian", "Chinese", "Japanese",
	"Korean", "Arabic", "Hindi", "Bengali", "Urdu", "Turkish", "Dutch", "Swedish", "Norwegian", "Danish",
	"Finnish", "Polish", "Czech", "Hungarian", "Romanian", "Bulgarian", "Greek", "Hebrew", "Thai",
	"Vietnamese", "Indonesian", "Malay", "Filipino", "Persian", "Ukrainian", "Belarusian", "Slovak",
	"Slovenian", "Croatian", "Serbian", "Bosnian", "Macedonian", "Albanian", "Estonian", "Latvian",
	"Lithuanian", "Georgian", "Armenian", "Azerbaijani", "Kazakh", "Uzbek", "Kyrgyz", "Tajik", "Turkmen",
	"Mongolian", "Nepali", "Sinhala", "Tamil", "Telugu", "Kannada", "Malayalam", "Marathi", "Gujarati",
	"Punjabi", "Odia", "Assamese", "Kashmiri", "Sindhi", "Konkani", "Manipuri", "Bodo", "Sanskrit",
	"Santhali", "Dogri", "Maithili",
}

type Book struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Title           string             `bson:"title" json:"title"`
	Slug            string             `bson:"slug" json:"slug"`
	Description     string             `bson:"description" json:"description"`
	FullDescription string             `bson:"fullDescription" json:"fullDescription"`
	Author          string             `bson:"author" json:"author"`
	Price           float64            `bson:"price" json:"price"`
	Rating          float64            `bson:"rating" json:"rating"`
	Reviews         int                `bson:"reviews" json:"reviews"`
	Year            int                `bson:"year" json:"year"`
	Genre           string             `bson:"genre" json:"genre"`
	Stock           int                `bson:"stock" json:"stock"`
	Language        string             `bson:"language" json:"language"`
	Format          string             `bson:"format" json:"format"`
	AmazonLink      string             `bson:"amazonLink,omitempty" json:"amazonLink,omitempty"`
	CoverImage      string             `bson:"coverImage" json:"coverImage"`
	ISBN            string             `bson:"isbn,omitempty" json:"isbn,omitempty"`
	CreatedAt       time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// Normalize trims free-text fields and folds unknown languages to English.
func (b *Book) Normalize() {
	b.Title = strings.TrimSpace(b.Title)
	b.Description = strings.TrimSpace(b.Description)
	b.FullDescription = strings.TrimSpace(b.FullDescription)
	b.Author = strings.TrimSpace(b.Author)
	b.Genre = strings.TrimSpace(b.Genre)
	b.AmazonLink = strings.TrimSpace(b.AmazonLink)
	b.CoverImage = strings.TrimSpace(b.CoverImage)
	b.ISBN = strings.ReplaceAll(strings.TrimSpace(b.ISBN), "-", "")
	if !contains(Languages, strings.TrimSpace(b.Language)) {
		b.Language = DefaultLanguage
	} else {
		b.Language = strings.TrimSpace(b.Language)
	}
}

// Validate returns the names of the fields that break the catalog rules, in declaration order.
func (b *Book) Validate(now time.Time) []string {
	var bad []string
	if b.Title == "" {
		bad = append(bad, "title")
	}
	if b.Description == "" {
		bad = append(bad, "description")
	}
	if b.FullDescription == "" {
		bad = append(bad, "fullDescription")
	}
	if b.Author == "" {
		bad = append(bad, "author")
	}
	if b.Price < 0 || math.IsNaN(b.Price) || math.IsInf(b.Price, 0) {
		bad = append(bad, "price")
	}
	if b.Rating < 0 || b.Rating > 5 || math.IsNaN(b.Rating) {
		bad = append(bad, "rating")
	}
	if b.Reviews < 0 {
		bad = append(bad, "reviews")
	}
	if b.Year < MinBookYear || b.Year > now.Year()+10 {
		bad = append(bad, "year")
	}
	if b.Genre == "" {
		bad = append(bad, "genre")
	}
	if b.Stock < 0 {
		bad = append(bad, "stock")
	}
	if !contains(Formats, b.Format) {
		bad = append(bad, "format")
	}
	if b.CoverImage == "" {
		bad = append(bad, "coverImage")
	}
	return bad
}

// Number is a JSON number that also accepts numeric strings, which is what form posts send.
// An empty string or null leaves it unset.
type Number struct {
	Value   float64
	Set     bool
	Invalid bool
}

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*n = Number{}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			return nil
		}
	}
	v, err := strconv.ParseFloat(raw, 64)
	n.Set = true
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		n.Invalid = true
		return nil
	}
	n.Value = v
	return nil
}

func (n Number) int() (int, bool) {
	if n.Value != math.Trunc(n.Value) {
		return 0, false
	}
	return int(n.Value), true
}

// BookInput is the create/update payload. Nil or unset fields are left untouched on update.
type BookInput struct {
	Title           *string `json:"title"`
	Description     *string `json:"description"`
	FullDescription *string `json:"fullDescription"`
	Author          *string `json:"author"`
	Price           Number  `json:"price"`
	Rating          Number  `json:"rating"`
	Reviews         Number  `json:"reviews"`
	Year            Number  `json:"year"`
	Genre           *string `json:"genre"`
	Stock           Number  `json:"stock"`
	Language        *string `json:"language"`
	Format          *string `json:"format"`
	AmazonLink      *string `json:"amazonLink"`
	CoverImage      *string `json:"coverImage"`
	ISBN            *string `json:"isbn"`
}

// Missing lists the fields a new book cannot be created without.
func (in *BookInput) Missing() []string {
	var out []string
	blank := func(s *string) bool { return s == nil || strings.TrimSpace(*s) == "" }
	if blank(in.Title) {
		out = append(out, "title")
	}
	if blank(in.Description) {
		out = append(out, "description")
	}
	if blank(in.FullDescription) {
		out = append(out, "fullDescription")
	}
	if blank(in.Author) {
		out = append(out, "author")
	}
	if !in.Price.Set {
		out = append(out, "price")
	}
	if !in.Year.Set {
		out = append(out, "year")
	}
	if blank(in.Genre) {
		out = append(out, "genre")
	}
	if blank(in.Format) {
		out = append(out, "format")
	}
	if blank(in.CoverImage) {
		out = append(out, "coverImage")
	}
	return out
}

// Apply copies the set fields onto b and returns the numeric fields that could not be parsed.
func (in *BookInput) Apply(b *Book) []string {
	var bad []string
	setStr := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setStr(&b.Title, in.Title)
	setStr(&b.Description, in.Description)
	setStr(&b.FullDescription, in.FullDescription)
	setStr(&b.Author, in.Author)
	setStr(&b.Genre, in.Genre)
	setStr(&b.Language, in.Language)
	setStr(&b.Format, in.Format)
	setStr(&b.AmazonLink, in.AmazonLink)
	setStr(&b.CoverImage, in.CoverImage)
	setStr(&b.ISBN, in.ISBN)

	setFloat := func(name string, dst *float64, n Number) {
		switch {
		case n.Invalid:
			bad = append(bad, name)
		case n.Set:
			*dst = n.Value
		}
	}
	setInt := func(name string, dst *int, n Number) {
		if !n.Set {
			return
		}
		v, ok := n.int()
		if n.Invalid || !ok {
			bad = append(bad, name)
			return
		}
		*dst = v
	}
	setFloat("price", &b.Price, in.Price)
	setFloat("rating", &b.Rating, in.Rating)
	setInt("reviews", &b.Reviews, in.Reviews)
	setInt("year", &b.Year, in.Year)
	setInt("stock", &b.Stock, in.Stock)
	return bad
}

// TitleChanged reports whether the payload renames b.
func (in *BookInput) TitleChanged(b *Book) bool {
	return in.Title != nil && strings.TrimSpace(*in.Title) != b.Title
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
