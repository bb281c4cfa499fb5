package category

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var defaultLexiconYAML []byte

// Lexicon holds the keywords for each category. Keywords are stored in their
// normalized form (see normalize).
type Lexicon struct {
	keywords map[Category][]string
}

type lexiconFile struct {
	Categories map[string][]string `yaml:"categories"`
}

// DefaultLexicon returns the lexicon shipped with the binary.
func DefaultLexicon() *Lexicon {
	lex, err := ParseLexicon(defaultLexiconYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded lexicon is invalid: %v", err))
	}
	return lex
}

// LoadLexicon reads a lexicon from a YAML file on disk.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading lexicon: %w", err)
	}
	lex, err := ParseLexicon(data)
	if err != nil {
		return nil, fmt.Errorf("parsing lexicon %s: %w", path, err)
	}
	return lex, nil
}

// ParseLexicon decodes a YAML lexicon. Every key under `categories` must be a
// taxonomy ID.
func ParseLexicon(data []byte) (*Lexicon, error) {
	var file lexiconFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshaling yaml: %w", err)
	}

	lex := &Lexicon{keywords: make(map[Category][]string, len(file.Categories))}
	for id, words := range file.Categories {
		c := Category(id)
		if !c.Valid() {
			return nil, fmt.Errorf("unknown category %q", id)
		}
		seen := make(map[string]bool, len(words))
		for _, w := range words {
			w = normalize(w)
			if w == "" || seen[w] {
				continue
			}
			seen[w] = true
			lex.keywords[c] = append(lex.keywords[c], w)
		}
	}
	return lex, nil
}

// Keywords returns the normalized keywords for c.
func (l *Lexicon) Keywords(c Category) []string {
	return append([]string(nil), l.keywords[c]...)
}

// normalize applies NFKC (folds full-width forms and composes jamo), lower
// cases, and collapses runs of whitespace to a single space.
func normalize(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))
	return strings.Join(strings.Fields(s), " ")
}
