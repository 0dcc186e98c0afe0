package utils

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var nonSlugRun = regexp.MustCompile(`[^a-z0-9]+`)

// maxSlugProbes bounds the linear probe so a broken lookup cannot spin forever.
const maxSlugProbes = 10000

// Slugify lowercases title, collapses every run of characters outside [a-z0-9] into a single
// dash and trims dashes from both ends. A title with nothing usable becomes "book-<unix millis>".
func Slugify(title string, now time.Time) string {
	slug := nonSlugRun.ReplaceAllString(strings.ToLower(title), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "book-" + strconv.FormatInt(now.UnixMilli(), 10)
	}
	return slug
}

// SlugTaken reports whether another document already uses slug.
type SlugTaken func(ctx context.Context, slug string) (bool, error)

// UniqueSlug probes base, base-1, base-2, ... and returns the first candidate nobody holds.
func UniqueSlug(ctx context.Context, base string, taken SlugTaken) (string, error) {
	candidate := base
	for n := 1; n <= maxSlugProbes; n++ {
		used, err := taken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !used {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
	return "", fmt.Errorf("no free slug for %q after %d attempts", base, maxSlugProbes)
}
