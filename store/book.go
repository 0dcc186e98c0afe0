package store

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/manojkumarsharma/bookstore/apperr"
	"github.com/manojkumarsharma/bookstore/models"
	"github.com/manojkumarsharma/bookstore/utils"
)

const (
	DefaultPageSize = 12
	MaxPageSize     = 100
	highlightSize   = 6
	slugRetries     = 5
)

var bookDuplicateMessages = map[string]string{
	"title": "A book with this title already exists",
	"slug":  "A book with this slug already exists",
}

// BookQuery is the catalog filter taken from the query string.
type BookQuery struct {
	Search   string
	Year     string
	Genre    string
	MinPrice string
	MaxPrice string
	Format   string
	Sort     string
	Page     int
	Limit    int
}

// BookQueryFromValues reads the catalog parameters, applying the default and maximum page size.
func BookQueryFromValues(v url.Values) BookQuery {
	q := BookQuery{
		Search:   strings.TrimSpace(v.Get("search")),
		Year:     strings.TrimSpace(v.Get("year")),
		Genre:    strings.TrimSpace(v.Get("genre")),
		MinPrice: strings.TrimSpace(v.Get("minPrice")),
		MaxPrice: strings.TrimSpace(v.Get("maxPrice")),
		Format:   strings.TrimSpace(v.Get("format")),
		Sort:     strings.TrimSpace(v.Get("sort")),
	}
	q.Page, q.Limit = PageParams(v, DefaultPageSize)
	return q
}

// PageParams parses page and limit; bad or missing values fall back to page 1 and def.
func PageParams(v url.Values, def int) (int, int) {
	page, err := strconv.Atoi(v.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(v.Get("limit"))
	if err != nil || limit < 1 {
		limit = def
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}

func ciRegex(s string) primitive.Regex {
	return primitive.Regex{Pattern: regexp.QuoteMeta(s), Options: "i"}
}

// Filter builds the Mongo filter. Search and genre are literal, case-insensitive substring matches.
func (q BookQuery) Filter() (bson.M, error) {
	filter := bson.M{}
	if q.Search != "" {
		re := ciRegex(q.Search)
		filter["$or"] = bson.A{
			bson.M{"title": re},
			bson.M{"author": re},
			bson.M{"description": re},
		}
	}
	if q.Year != "" {
		if from, to, ok := strings.Cut(q.Year, "-"); ok {
			a, errA := strconv.Atoi(strings.TrimSpace(from))
			b, errB := strconv.Atoi(strings.TrimSpace(to))
			if errA != nil || errB != nil {
				return nil, apperr.Validation("Invalid year range", "year")
			}
			filter["year"] = bson.M{"$gte": a, "$lte": b}
		} else {
			y, err := strconv.Atoi(q.Year)
			if err != nil {
				return nil, apperr.Validation("Invalid year", "year")
			}
			filter["year"] = y
		}
	}
	if q.Genre != "" {
		filter["genre"] = ciRegex(q.Genre)
	}
	if q.MinPrice != "" || q.MaxPrice != "" {
		price := bson.M{}
		for op, raw := range map[string]string{"$gte": q.MinPrice, "$lte": q.MaxPrice} {
			if raw == "" {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, apperr.Validation("Invalid price range", "price")
			}
			price[op] = v
		}
		filter["price"] = price
	}
	if q.Format != "" {
		filter["format"] = q.Format
	}
	return filter, nil
}

// SortDoc maps the sort key to an order; anything unknown means newest first.
func (q BookQuery) SortDoc() bson.D {
	switch q.Sort {
	case "title":
		return bson.D{{Key: "title", Value: 1}}
	case "year":
		return bson.D{{Key: "year", Value: -1}}
	case "price":
		return bson.D{{Key: "price", Value: 1}}
	case "price-desc":
		return bson.D{{Key: "price", Value: -1}}
	case "rating":
		return bson.D{{Key: "rating", Value: -1}}
	default:
		return bson.D{{Key: "createdAt", Value: -1}}
	}
}

func (db *DB) ListBooks(ctx context.Context, q BookQuery) ([]models.Book, int64, error) {
	filter, err := q.Filter()
	if err != nil {
		return nil, 0, err
	}
	cur, err := db.Books().Find(ctx, filter, pageOptions(q.Page, q.Limit).SetSort(q.SortDoc()))
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	books := []models.Book{}
	if err := cur.All(ctx, &books); err != nil {
		return nil, 0, err
	}
	total, err := db.Books().CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return books, total, nil
}

// Highlight lists on the storefront home page.
const (
	HighlightFeatured    = "featured"
	HighlightBestsellers = "bestsellers"
	HighlightNewReleases = "new-releases"
	HighlightOnSale      = "on-sale"
)

func (db *DB) HighlightBooks(ctx context.Context, kind string) ([]models.Book, error) {
	opts := options.Find().SetLimit(highlightSize)
	switch kind {
	case HighlightBestsellers:
		opts.SetSort(bson.D{{Key: "rating", Value: -1}})
	case HighlightNewReleases:
		opts.SetSort(bson.D{{Key: "year", Value: -1}})
	case HighlightOnSale:
		opts.SetSort(bson.D{{Key: "price", Value: 1}})
	}
	return db.findBooks(ctx, bson.M{}, opts)
}

func (db *DB) findBooks(ctx context.Context, filter any, opts *options.FindOptions) ([]models.Book, error) {
	cur, err := db.Books().Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	books := []models.Book{}
	if err := cur.All(ctx, &books); err != nil {
		return nil, err
	}
	return books, nil
}

func (db *DB) findBook(ctx context.Context, filter bson.M) (*models.Book, error) {
	var book models.Book
	err := db.Books().FindOne(ctx, filter).Decode(&book)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &book, nil
}

func (db *DB) BookByID(ctx context.Context, id primitive.ObjectID) (*models.Book, error) {
	return db.findBook(ctx, bson.M{"_id": id})
}

func (db *DB) BookBySlug(ctx context.Context, slug string) (*models.Book, error) {
	return db.findBook(ctx, bson.M{"slug": slug})
}

// BooksByIDs loads the given books keyed by id. Unknown ids are simply absent.
func (db *DB) BooksByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Book, error) {
	books, err := db.findBooks(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find())
	if err != nil {
		return nil, err
	}
	out := make(map[primitive.ObjectID]models.Book, len(books))
	for _, b := range books {
		out[b.ID] = b
	}
	return out, nil
}

func excluding(filter bson.M, exclude primitive.ObjectID) bson.M {
	if !exclude.IsZero() {
		filter["_id"] = bson.M{"$ne": exclude}
	}
	return filter
}

// TitleTaken reports whether another book already uses title, ignoring case.
func (db *DB) TitleTaken(ctx context.Context, title string, exclude primitive.ObjectID) (bool, error) {
	n, err := db.Books().CountDocuments(ctx,
		excluding(bson.M{"title": strings.TrimSpace(title)}, exclude),
		options.Count().SetCollation(caseInsensitive).SetLimit(1))
	return n > 0, err
}

func (db *DB) slugTaken(exclude primitive.ObjectID) utils.SlugTaken {
	return func(ctx context.Context, slug string) (bool, error) {
		n, err := db.Books().CountDocuments(ctx, excluding(bson.M{"slug": slug}, exclude), options.Count().SetLimit(1))
		return n > 0, err
	}
}

// CreateBook derives a unique slug and inserts b. The unique index on slug is the real guard:
// if a concurrent insert takes the probed slug the probe is repeated.
func (db *DB) CreateBook(ctx context.Context, b *models.Book) error {
	now := db.now()
	b.CreatedAt, b.UpdatedAt = now, now
	base := utils.Slugify(b.Title, now)
	for attempt := 0; attempt < slugRetries; attempt++ {
		slug, err := utils.UniqueSlug(ctx, base, db.slugTaken(primitive.NilObjectID))
		if err != nil {
			return err
		}
		b.Slug = slug
		b.ID = primitive.NilObjectID
		res, err := db.Books().InsertOne(ctx, b)
		if err == nil {
			b.ID = res.InsertedID.(primitive.ObjectID)
			return nil
		}
		if DuplicateKeyField(err) == "slug" {
			db.log.WithField("slug", slug).Debug("slug claimed concurrently, probing again")
			continue
		}
		return duplicate(err, bookDuplicateMessages)
	}
	return apperr.Duplicate("slug")
}

// UpdateBook replaces the stored book with b. When reslug is set the slug is derived again from the title.
func (db *DB) UpdateBook(ctx context.Context, b *models.Book, reslug bool) error {
	now := db.now()
	b.UpdatedAt = now
	base := utils.Slugify(b.Title, now)
	for attempt := 0; attempt < slugRetries; attempt++ {
		if reslug || b.Slug == "" {
			slug, err := utils.UniqueSlug(ctx, base, db.slugTaken(b.ID))
			if err != nil {
				return err
			}
			b.Slug = slug
		}
		res, err := db.Books().ReplaceOne(ctx, bson.M{"_id": b.ID}, b)
		if err == nil {
			if res.MatchedCount == 0 {
				return mongo.ErrNoDocuments
			}
			return nil
		}
		if DuplicateKeyField(err) == "slug" {
			reslug = true
			continue
		}
		return duplicate(err, bookDuplicateMessages)
	}
	return apperr.Duplicate("slug")
}

// DeleteBook removes the book and returns what was stored, or nil if it did not exist.
func (db *DB) DeleteBook(ctx context.Context, id primitive.ObjectID) (*models.Book, error) {
	var book models.Book
	err := db.Books().FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&book)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &book, nil
}

type BookSummary struct {
	ID      primitive.ObjectID `bson:"_id" json:"_id"`
	Title   string             `bson:"title" json:"title"`
	Rating  float64            `bson:"rating" json:"rating"`
	Reviews int                `bson:"reviews" json:"reviews"`
	Price   float64            `bson:"price" json:"price"`
}

type BookStats struct {
	TotalBooks        int64         `json:"totalBooks"`
	TotalStock        int64         `json:"totalStock"`
	TotalValue        float64       `json:"totalValue"`
	TopRatedBooks     []BookSummary `json:"topRatedBooks"`
	MostReviewedBooks []BookSummary `json:"mostReviewedBooks"`
}

func (db *DB) BookStats(ctx context.Context) (*BookStats, error) {
	stats := &BookStats{TopRatedBooks: []BookSummary{}, MostReviewedBooks: []BookSummary{}}
	var err error
	if stats.TotalBooks, err = db.Books().CountDocuments(ctx, bson.M{}); err != nil {
		return nil, err
	}

	cur, err := db.Books().Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"stock": bson.M{"$sum": "$stock"},
			"value": bson.M{"$sum": bson.M{"$multiply": bson.A{"$price", "$stock"}}},
		}}},
	})
	if err != nil {
		return nil, err
	}
	var totals []struct {
		Stock int64   `bson:"stock"`
		Value float64 `bson:"value"`
	}
	if err := cur.All(ctx, &totals); err != nil {
		return nil, err
	}
	if len(totals) > 0 {
		stats.TotalStock = totals[0].Stock
		stats.TotalValue = models.RoundCents(totals[0].Value)
	}

	summary := options.Find().SetLimit(5).SetProjection(bson.M{"title": 1, "rating": 1, "reviews": 1, "price": 1})
	for _, list := range []struct {
		sort string
		dst  *[]BookSummary
	}{{"rating", &stats.TopRatedBooks}, {"reviews", &stats.MostReviewedBooks}} {
		cur, err := db.Books().Find(ctx, bson.M{}, summary.SetSort(bson.D{{Key: list.sort, Value: -1}}))
		if err != nil {
			return nil, err
		}
		if err := cur.All(ctx, list.dst); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

// BooksMissingSlug returns books stored before slugs existed, or with an empty one.
func (db *DB) BooksMissingSlug(ctx context.Context) ([]models.Book, error) {
	return db.findBooks(ctx, bson.M{"$or": bson.A{
		bson.M{"slug": bson.M{"$exists": false}},
		bson.M{"slug": ""},
		bson.M{"slug": nil},
	}}, options.Find())
}

// SetBookSlug assigns a fresh unique slug derived from the book's title.
func (db *DB) SetBookSlug(ctx context.Context, b *models.Book) (string, error) {
	slug, err := utils.UniqueSlug(ctx, utils.Slugify(b.Title, db.now()), db.slugTaken(b.ID))
	if err != nil {
		return "", err
	}
	_, err = db.Books().UpdateOne(ctx, bson.M{"_id": b.ID}, bson.M{"$set": bson.M{"slug": slug}})
	return slug, duplicate(err, bookDuplicateMessages)
}

type SlugCount struct {
	Slug  string `bson:"_id" json:"slug"`
	Count int    `bson:"count" json:"count"`
}

// DuplicateSlugs reports slugs shared by more than one book.
func (db *DB) DuplicateSlugs(ctx context.Context) ([]SlugCount, error) {
	cur, err := db.Books().Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$slug", "count": bson.M{"$sum": 1}}}},
		{{Key: "$match", Value: bson.M{"count": bson.M{"$gt": 1}}}},
	})
	if err != nil {
		return nil, err
	}
	out := []SlugCount{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ClearBooks deletes the whole catalog and returns how many books were removed.
func (db *DB) ClearBooks(ctx context.Context) (int64, error) {
	res, err := db.Books().DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

var ErrInsufficientStock = errors.New("insufficient stock")

// ReserveStock takes qty copies out of stock only if that many are available.
func (db *DB) ReserveStock(ctx context.Context, id primitive.ObjectID, qty int) error {
	res, err := db.Books().UpdateOne(ctx,
		bson.M{"_id": id, "stock": bson.M{"$gte": qty}},
		bson.M{"$inc": bson.M{"stock": -qty}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrInsufficientStock
	}
	return nil
}

func (db *DB) ReleaseStock(ctx context.Context, id primitive.ObjectID, qty int) error {
	_, err := db.Books().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"stock": qty}})
	return err
}
