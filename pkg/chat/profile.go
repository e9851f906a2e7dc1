package chat

import (
	"strconv"
	"strings"
)

// Profile is the structured input collected before the first turn.
type Profile struct {
	Destination string `json:"destination" yaml:"destination"`
	DateRange   string `json:"dateRange" yaml:"dateRange"`
	PartySize   int    `json:"partySize" yaml:"partySize"`
	Budget      int    `json:"budget" yaml:"budget"`
	Style       string `json:"style" yaml:"style"`
	Interests   string `json:"interests" yaml:"interests"`
}

// Fields returns the template token values for the profile. Numbers are
// rendered as plain decimal digits.
func (p Profile) Fields() map[string]string {
	return map[string]string{
		"destination": p.Destination,
		"dateRange":   p.DateRange,
		"partySize":   strconv.Itoa(p.PartySize),
		"budget":      strconv.Itoa(p.Budget),
		"style":       p.Style,
		"interests":   p.Interests,
	}
}

// Validate checks that every field needed by the bootstrap template is present.
func (p Profile) Validate() error {
	missing := func(field string) error {
		return newError(KindInvalidProfileField, nil, "profile field %q is required", field)
	}
	switch {
	case strings.TrimSpace(p.Destination) == "":
		return missing("destination")
	case strings.TrimSpace(p.DateRange) == "":
		return missing("dateRange")
	case p.PartySize <= 0:
		return newError(KindInvalidProfileField, nil, "profile field %q must be positive, got %d", "partySize", p.PartySize)
	case p.Budget <= 0:
		return newError(KindInvalidProfileField, nil, "profile field %q must be positive, got %d", "budget", p.Budget)
	case strings.TrimSpace(p.Style) == "":
		return missing("style")
	case strings.TrimSpace(p.Interests) == "":
		return missing("interests")
	}
	return nil
}

// RenderBootstrap replaces every {fieldName} token in template with the
// matching profile value. Unknown tokens are left untouched.
func RenderBootstrap(template string, p Profile) string {
	fields := p.Fields()
	pairs := make([]string, 0, len(fields)*2)
	for k, v := range fields {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
