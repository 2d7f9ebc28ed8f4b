package spelling

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/text/language"
)

// mapDictionary knows a fixed set of words and corrects from a lookup table
type mapDictionary struct {
	known       map[string]bool
	corrections map[string]string
	err         error
	panics      bool
	asked       []string
}

func (d *mapDictionary) Known(word string) bool {
	if d.panics {
		panic("backend exploded")
	}
	return d.known[strings.ToLower(word)]
}

func (d *mapDictionary) Correction(word string) (string, error) {
	d.asked = append(d.asked, word)
	if d.err != nil {
		return "", d.err
	}
	return d.corrections[strings.ToLower(word)], nil
}

func newTestCorrector(en, ru Dictionary) *Corrector {
	dicts := map[language.Tag]Dictionary{}
	if en != nil {
		dicts[language.English] = en
	}
	if ru != nil {
		dicts[language.Russian] = ru
	}
	return NewCorrector(dicts, language.Russian, language.English)
}

func TestDetectLanguage(t *testing.T) {
	c := newTestCorrector(nil, nil)

	tests := []struct {
		name     string
		text     string
		expected language.Tag
	}{
		{name: "all latin", text: "The quick brown fox", expected: language.English},
		{name: "all cyrillic", text: "Привет мир", expected: language.Russian},
		{name: "mostly cyrillic", text: "Привет world", expected: language.Russian},
		{name: "mostly latin", text: "Hello мир", expected: language.English},
		{name: "tie", text: "abc где", expected: language.English},
		{name: "empty", text: "", expected: language.English},
		{name: "digits only", text: "12345 678", expected: language.English},
		{name: "yo counts as cyrillic", text: "ЁЁЁ ab", expected: language.Russian},
		{name: "ukrainian letters not counted", text: "ї є і ґ ab", expected: language.English},
		{name: "accented latin not counted", text: "éèàçñ дом", expected: language.Russian},
		{name: "fullwidth latin not counted", text: "ｈｅｌｌｏ мир", expected: language.Russian},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := c.DetectLanguage(tt.text)
			if result != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestCorrect(t *testing.T) {
	en := &mapDictionary{
		known:       map[string]bool{"hello": true, "world": true, "the": true},
		corrections: map[string]string{"wrold": "world", "helo": "hello"},
	}
	c := newTestCorrector(en, nil)

	tests := []struct {
		name     string
		text     string
		expected string
	}{
		{name: "known words unchanged", text: "hello world", expected: "hello world"},
		{name: "unknown word corrected", text: "hello wrold", expected: "hello world"},
		{name: "punctuation preserved", text: "(helo), \"wrold!\"", expected: "(hello), \"world!\""},
		{name: "no correction keeps word", text: "xyzzy", expected: "xyzzy"},
		{name: "digit tokens untouched", text: "wrold2 3rd 2024", expected: "wrold2 3rd 2024"},
		{name: "pure punctuation untouched", text: "-- ... !", expected: "-- ... !"},
		{name: "whitespace normalized", text: "  hello \n\t wrold  ", expected: "hello world"},
		{name: "empty text", text: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := c.Correct(tt.text, language.Und)
			if result != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestCorrectDigitTokensNeverReachDictionary(t *testing.T) {
	en := &mapDictionary{corrections: map[string]string{"a1": "al"}}
	c := newTestCorrector(en, nil)

	inputs := []string{"123", "a1 b2 c3", "(2024) 3.14, 1st", "A4 10kg x86_64", "m² a₁ x³ ①a"}
	for _, input := range inputs {
		result := c.Correct(input, language.Und)
		expected := strings.Join(strings.Fields(input), " ")
		if result != expected {
			t.Errorf("Expected %q unchanged, got %q", input, result)
		}
	}
	if len(en.asked) != 0 {
		t.Errorf("Expected no dictionary lookups, got %v", en.asked)
	}
}

func TestCorrectUsesDetectedLanguage(t *testing.T) {
	en := &mapDictionary{known: map[string]bool{}, corrections: map[string]string{"превед": "wrong"}}
	ru := &mapDictionary{known: map[string]bool{"мир": true}, corrections: map[string]string{"превед": "привет"}}
	c := newTestCorrector(en, ru)

	result := c.Correct("Превед, мир!", language.Und)
	if result != "Привет, мир!" && result != "привет, мир!" {
		t.Errorf("Expected Russian correction, got %q", result)
	}
	if len(en.asked) != 0 {
		t.Errorf("Expected English dictionary to be unused, got %v", en.asked)
	}
}

func TestCorrectExplicitLanguage(t *testing.T) {
	ru := &mapDictionary{known: map[string]bool{}, corrections: map[string]string{"cat": "кот"}}
	c := newTestCorrector(&mapDictionary{}, ru)

	if result := c.Correct("cat", language.Russian); result != "кот" {
		t.Errorf("Expected explicit language to override detection, got %q", result)
	}
}

func TestCorrectDegradesOnFailure(t *testing.T) {
	text := "helo  wrold"

	tests := []struct {
		name string
		dict Dictionary
	}{
		{name: "dictionary error", dict: &mapDictionary{known: map[string]bool{}, err: errors.New("backend down")}},
		{name: "dictionary panic", dict: &mapDictionary{panics: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCorrector(tt.dict, nil)
			result := c.Correct(text, language.Und)
			if result != text {
				t.Errorf("Expected original text %q, got %q", text, result)
			}
		})
	}

	c := newTestCorrector(nil, nil)
	if result := c.Correct(text, language.Und); result != text {
		t.Errorf("Expected original text without dictionary, got %q", result)
	}
}

func TestSplitToken(t *testing.T) {
	tests := []struct {
		token                   string
		leading, core, trailing string
	}{
		{token: "word", leading: "", core: "word", trailing: ""},
		{token: "«слово»,", leading: "«", core: "слово", trailing: "»,"},
		{token: "...", leading: "...", core: "", trailing: ""},
		{token: "'don't'", leading: "'", core: "don't", trailing: "'"},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			leading, core, trailing := splitToken(tt.token)
			if leading != tt.leading || core != tt.core || trailing != tt.trailing {
				t.Errorf("Expected (%q, %q, %q), got (%q, %q, %q)", tt.leading, tt.core, tt.trailing, leading, core, trailing)
			}
		})
	}
}
