package config

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/IshaanNene/catalogcrawl/internal/types"
)

var (
	productPathRe  = regexp.MustCompile(`\d+\.html$`)
	mainCategoryRe = regexp.MustCompile(`-main|_main`)
)

// Seed is a start URL with its resolved label.
type Seed struct {
	URL   string
	Label types.Label
}

// Seeds validates the start URLs and resolves their labels.
func (s SiteConfig) Seeds() ([]Seed, error) {
	seeds := make([]Seed, 0, len(s.StartURLs))
	for _, su := range s.StartURLs {
		if err := ValidateURL(su.URL); err != nil {
			return nil, fmt.Errorf("start URL %q: %w", su.URL, err)
		}

		label := InferLabel(su.URL)
		if su.Label != "" {
			l, err := types.ParseLabel(su.Label)
			if err != nil {
				return nil, fmt.Errorf("start URL %q: %w", su.URL, err)
			}
			label = l
		}
		if label == types.LabelProductVariants {
			return nil, fmt.Errorf("start URL %q: %s cannot be seeded, it needs a product payload", su.URL, label)
		}
		seeds = append(seeds, Seed{URL: su.URL, Label: label})
	}
	return seeds, nil
}

// InferLabel guesses the page kind of a catalog URL:
// ".../<digits>.html" is a product, a category path ending in a main
// marker is a main category, any other category path is a subcategory and
// everything else is treated as the home page.
func InferLabel(rawURL string) types.Label {
	u, err := url.Parse(rawURL)
	if err != nil {
		return types.LabelHomepage
	}
	p := strings.TrimSuffix(u.Path, "/")

	switch {
	case productPathRe.MatchString(p):
		return types.LabelProduct
	case strings.Contains(p, "catalog/category/"):
		if mainCategoryRe.MatchString(path.Base(p)) {
			return types.LabelMainCategory
		}
		return types.LabelSubcategory
	default:
		return types.LabelHomepage
	}
}
