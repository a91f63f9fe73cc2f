package config

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Locale is a service locale such as sv_SE split into the parts the API uses:
// Language selects locale-suffixed fields (title_sv), Region selects the site
// (cmore.se, CMORE_SE, seasons_cmore_se) and the operator country code.
type Locale struct {
	Tag      string // sv_SE
	Language string // sv
	Region   string // se
}

// Locales the service publishes a site for.
var supportedRegions = map[string]bool{"se": true, "dk": true, "no": true}

// ParseLocale parses "sv_SE" / "sv-SE". The region must be one the service runs in.
func ParseLocale(s string) (Locale, error) {
	s = strings.TrimSpace(s)
	tag, err := language.Parse(strings.ReplaceAll(s, "_", "-"))
	if err != nil {
		return Locale{}, fmt.Errorf("locale %q: %w", s, err)
	}
	base, _ := tag.Base()
	region, conf := tag.Region()
	if conf == language.No || !strings.Contains(s, "_") && !strings.Contains(s, "-") {
		return Locale{}, fmt.Errorf("locale %q: missing region", s)
	}
	r := strings.ToLower(region.String())
	if !supportedRegions[r] {
		return Locale{}, fmt.Errorf("locale %q: unsupported region %q", s, r)
	}
	lang := base.String()
	return Locale{
		Tag:      lang + "_" + strings.ToUpper(r),
		Language: lang,
		Region:   r,
	}, nil
}

// MustLocale is ParseLocale for values already validated by Config.Validate.
func MustLocale(s string) Locale {
	l, err := ParseLocale(s)
	if err != nil {
		panic(err)
	}
	return l
}

// Site is the service site id for the locale, e.g. cmore.se.
func (l Locale) Site() string {
	return "cmore." + l.Region
}
