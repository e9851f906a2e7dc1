package ui

import (
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/pkg/errors"

	"github.com/go-go-golems/itinerary/pkg/bootstrap"
)

// NewProfileForm asks every question of doc. Answers are written to the
// returned map, keyed by field name.
func NewProfileForm(doc *bootstrap.Document) (*huh.Form, map[string]*string) {
	answers := make(map[string]*string, len(doc.Questions))
	fields := make([]huh.Field, 0, len(doc.Questions))
	for _, q := range doc.Questions {
		v := new(string)
		answers[q.Field] = v
		fields = append(fields, huh.NewInput().
			Key(q.Field).
			Title(q.Title).
			Placeholder(q.Placeholder).
			Value(v).
			Validate(q.ValidateAnswer))
	}
	form := huh.NewForm(huh.NewGroup(fields...)).WithShowHelp(true)
	return form, answers
}

// NewAPIKeyForm asks for a replacement API key.
func NewAPIKeyForm(key *string) *huh.Form {
	return huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("API key").
			Description("The provider rejected the configured key. Enter a new one to retry.").
			EchoMode(huh.EchoModePassword).
			Value(key).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("an API key is required")
				}
				return nil
			}),
	))
}

func collectAnswers(answers map[string]*string) map[string]string {
	out := make(map[string]string, len(answers))
	for k, v := range answers {
		out[k] = *v
	}
	return out
}
