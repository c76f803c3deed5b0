package bloomsync

import (
	"regexp"
	"strings"

	"bitbucket.org/radianceaesthetics/ops_backend/models"
)

// Service taxonomy. Upstream service names and categories are free text; the
// matcher maps them onto the internal slug vocabulary with a fixed, ordered
// rule table. Name rules run before category rules because categories are
// coarse umbrella labels: a category named for one treatment family can hold
// line items that belong to a narrower one (e.g. "Dermal Filler" filed under
// "Tox + Fillers" is filler, not tox). First match wins; no match is a valid
// outcome and yields nil.

type slugRule struct {
	pattern *regexp.Regexp
	slug    string
}

var nameRules = []slugRule{
	{regexp.MustCompile(`(?i)filler|juvederm|restylane|sculptra|radiesse|rha`), "filler"},
	{regexp.MustCompile(`(?i)botox|dysport|jeuveau|xeomin|daxxify|lip flip|\btox\b`), "tox"},
	{regexp.MustCompile(`(?i)laser hair`), "laser-hair-removal"},
	{regexp.MustCompile(`(?i)\bipl\b|photofacial|bbl`), "ipl"},
	{regexp.MustCompile(`(?i)microneedl|morpheus|rf needling`), "microneedling"},
	{regexp.MustCompile(`(?i)hydrafacial|facial|dermaplan|glo2`), "facial"},
	{regexp.MustCompile(`(?i)chemical peel|\bpeel\b`), "peel"},
	{regexp.MustCompile(`(?i)semaglutide|tirzepatide|weight loss`), "weight-loss"},
	{regexp.MustCompile(`(?i)\biv\b.*(therapy|drip|hydration)|vitamin injection|b12`), "iv-therapy"},
	{regexp.MustCompile(`(?i)consult`), "consultation"},
	{regexp.MustCompile(`(?i)membership`), "membership"},
}

var categoryRules = []slugRule{
	{regexp.MustCompile(`(?i)tox|injectab|wrinkle`), "tox"},
	{regexp.MustCompile(`(?i)filler`), "filler"},
	{regexp.MustCompile(`(?i)laser`), "laser-hair-removal"},
	{regexp.MustCompile(`(?i)facial|skin`), "facial"},
	{regexp.MustCompile(`(?i)wellness|iv `), "iv-therapy"},
	{regexp.MustCompile(`(?i)weight`), "weight-loss"},
	{regexp.MustCompile(`(?i)membership`), "membership"},
}

// NormalizeService maps an upstream service name and optional category to an
// internal service slug, or nil when unmappable.
func NormalizeService(name string, category string) *string {
	name = strings.TrimSpace(name)
	category = strings.TrimSpace(category)

	for _, rule := range nameRules {
		if name != "" && rule.pattern.MatchString(name) {
			slug := rule.slug
			return &slug
		}
	}
	for _, rule := range categoryRules {
		if category != "" && rule.pattern.MatchString(category) {
			slug := rule.slug
			return &slug
		}
	}
	return nil
}

// LocationMap resolves upstream location identifiers to internal location
// keys. Built once per process from the known locations; the mapping is
// injective (external ids and keys are both unique-indexed).
type LocationMap struct {
	keysByExternalId map[string]string
}

func NewLocationMap(locations []models.Location) *LocationMap {
	m := &LocationMap{keysByExternalId: make(map[string]string, len(locations))}
	for _, loc := range locations {
		m.keysByExternalId[loc.ExternalId] = loc.Key
	}
	return m
}

// Key returns the internal location key for an upstream location id.
func (m *LocationMap) Key(externalId string) (string, bool) {
	key, ok := m.keysByExternalId[externalId]
	return key, ok
}
