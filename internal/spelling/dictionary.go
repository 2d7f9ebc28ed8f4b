package spelling

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/sajari/fuzzy"
	"golang.org/x/text/language"
)

// FuzzyDictionary is a Dictionary backed by a symmetric-delete fuzzy model
type FuzzyDictionary struct {
	model *fuzzy.Model
	words map[string]struct{}
}

// NewFuzzyDictionary creates an empty dictionary; depth is the maximum edit distance
func NewFuzzyDictionary(depth int) *FuzzyDictionary {
	if depth <= 0 {
		depth = 2
	}
	model := fuzzy.NewModel()
	model.SetThreshold(1)
	model.SetDepth(depth)
	return &FuzzyDictionary{
		model: model,
		words: make(map[string]struct{}),
	}
}

// Add trains a word with the given corpus frequency
func (d *FuzzyDictionary) Add(word string, count int) {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return
	}
	if count < 1 {
		count = 1
	}
	d.words[word] = struct{}{}
	d.model.SetCount(word, count, true)
}

// Load reads a word list with one word per line and an optional frequency column
func (d *FuzzyDictionary) Load(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		count := 1
		if len(fields) > 1 {
			if n, err := strconv.Atoi(fields[1]); err == nil {
				count = n
			}
		}
		d.Add(fields[0], count)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read word list: %w", err)
	}
	return nil
}

// Len returns the number of distinct words
func (d *FuzzyDictionary) Len() int {
	return len(d.words)
}

func (d *FuzzyDictionary) Known(word string) bool {
	_, ok := d.words[strings.ToLower(word)]
	return ok
}

func (d *FuzzyDictionary) Correction(word string) (string, error) {
	return d.model.SpellCheck(strings.ToLower(word)), nil
}

// LoadDictionaries builds one dictionary per configured language code
func LoadDictionaries(paths map[string]string, depth int) (map[language.Tag]Dictionary, error) {
	dictionaries := make(map[language.Tag]Dictionary, len(paths))
	for code, path := range paths {
		tag, err := language.Parse(code)
		if err != nil {
			return nil, fmt.Errorf("invalid dictionary language %q: %w", code, err)
		}

		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open dictionary for %s: %w", code, err)
		}

		dict := NewFuzzyDictionary(depth)
		err = dict.Load(file)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to load dictionary for %s: %w", code, err)
		}

		slog.Info("Loaded spelling dictionary", "lang", tag, "path", path, "words", dict.Len())
		dictionaries[tag] = dict
	}
	return dictionaries, nil
}
