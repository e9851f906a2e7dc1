// Package bootstrap holds the static configuration used to open a planning
// session: model parameters, the bootstrap utterance template and the profile
// questions asked by the front-ends.
package bootstrap

import (
	_ "embed"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/itinerary/pkg/chat"
)

//go:embed session.yaml
var defaultYAML []byte

// Question is one profile prompt shown to the user.
type Question struct {
	Field       string `yaml:"field"`
	Title       string `yaml:"title"`
	Placeholder string `yaml:"placeholder"`
	Numeric     bool   `yaml:"numeric"`
}

// Document is the parsed bootstrap configuration.
type Document struct {
	Session   chat.SessionConfig `yaml:"session"`
	Template  string             `yaml:"template"`
	Questions []Question         `yaml:"questions"`
}

// Default returns the embedded configuration.
func Default() (*Document, error) {
	return Parse(defaultYAML)
}

// Parse decodes a bootstrap document.
func Parse(b []byte) (*Document, error) {
	d := &Document{}
	if err := yaml.Unmarshal(b, d); err != nil {
		return nil, errors.Wrap(err, "could not parse bootstrap document")
	}
	return d, nil
}

// Load returns the embedded defaults overlaid with the YAML file at path.
// Keys missing from the file keep their default value. An empty path returns
// the defaults.
func Load(path string) (*Document, error) {
	d, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return d, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read bootstrap file %s", path)
	}
	if err := yaml.Unmarshal(b, d); err != nil {
		return nil, errors.Wrapf(err, "could not parse bootstrap file %s", path)
	}
	return d, d.Validate()
}

// Validate checks that the document can open a session.
func (d *Document) Validate() error {
	if strings.TrimSpace(d.Session.Model) == "" {
		return errors.New("bootstrap: session.model is required")
	}
	if strings.TrimSpace(d.Template) == "" {
		return errors.New("bootstrap: template is required")
	}
	return nil
}

// ProfileFromAnswers builds a Profile from answers keyed by question field.
func ProfileFromAnswers(answers map[string]string) (chat.Profile, error) {
	num := func(field string) (int, error) {
		raw := strings.TrimSpace(answers[field])
		raw = strings.NewReplacer(",", "", "_", "", " ", "").Replace(raw)
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, errors.Errorf("%s must be a whole number, got %q", field, answers[field])
		}
		return n, nil
	}
	partySize, err := num("partySize")
	if err != nil {
		return chat.Profile{}, err
	}
	budget, err := num("budget")
	if err != nil {
		return chat.Profile{}, err
	}
	p := chat.Profile{
		Destination: strings.TrimSpace(answers["destination"]),
		DateRange:   strings.TrimSpace(answers["dateRange"]),
		PartySize:   partySize,
		Budget:      budget,
		Style:       strings.TrimSpace(answers["style"]),
		Interests:   strings.TrimSpace(answers["interests"]),
	}
	return p, p.Validate()
}

// ValidateAnswer checks a single answer against its question.
func (q Question) ValidateAnswer(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.Errorf("%s is required", q.Field)
	}
	if q.Numeric {
		n, err := strconv.Atoi(strings.NewReplacer(",", "", "_", "", " ", "").Replace(s))
		if err != nil || n <= 0 {
			return errors.Errorf("%s must be a positive whole number", q.Field)
		}
	}
	return nil
}
