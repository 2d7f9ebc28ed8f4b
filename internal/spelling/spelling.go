package spelling

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/language"
)

// Dictionary is a per-language word list able to suggest corrections
type Dictionary interface {
	// Known reports whether word is spelled correctly
	Known(word string) bool
	// Correction returns the best single-word correction, or "" when there is none
	Correction(word string) (string, error)
}

// Corrector fixes OCR spelling mistakes token by token
type Corrector struct {
	dictionaries map[language.Tag]Dictionary
	cyrillic     language.Tag
	fallback     language.Tag
}

// NewCorrector creates a corrector. Text dominated by Cyrillic letters is
// checked against the cyrillic dictionary, everything else against fallback.
func NewCorrector(dictionaries map[language.Tag]Dictionary, cyrillic, fallback language.Tag) *Corrector {
	return &Corrector{
		dictionaries: dictionaries,
		cyrillic:     cyrillic,
		fallback:     fallback,
	}
}

// DetectLanguage picks the Cyrillic language when Cyrillic letters strictly
// outnumber Latin letters, and the fallback otherwise.
func (c *Corrector) DetectLanguage(text string) language.Tag {
	if countCyrillic(text) > countLatin(text) {
		return c.cyrillic
	}
	return c.fallback
}

// Correct returns text with unknown words replaced by their best correction.
// An undetermined lang is detected from text. Tokens are re-joined with
// single spaces. Any dictionary failure returns text unchanged.
func (c *Corrector) Correct(text string, lang language.Tag) (corrected string) {
	if lang == language.Und {
		lang = c.DetectLanguage(text)
	}

	dict, ok := c.dictionaries[lang]
	if !ok {
		slog.Warn("No spelling dictionary for language, skipping correction", "lang", lang)
		return text
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Spelling correction failed", "lang", lang, "err", fmt.Sprint(r))
			corrected = text
		}
	}()

	tokens := strings.Fields(text)
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		fixed, err := correctToken(dict, token)
		if err != nil {
			slog.Error("Spelling correction failed", "lang", lang, "token", token, "err", err)
			return text
		}
		out = append(out, fixed)
	}
	return strings.Join(out, " ")
}

func correctToken(dict Dictionary, token string) (string, error) {
	leading, core, trailing := splitToken(token)
	if core == "" || strings.IndexFunc(core, isDigit) >= 0 {
		return token, nil
	}

	if !dict.Known(core) {
		correction, err := dict.Correction(core)
		if err != nil {
			return "", err
		}
		if correction != "" {
			core = correction
		}
	}
	return leading + core + trailing, nil
}

// splitToken separates leading and trailing non-alphanumeric runs from the core
func splitToken(token string) (leading, core, trailing string) {
	start := strings.IndexFunc(token, isAlnum)
	if start < 0 {
		return token, "", ""
	}
	end := strings.LastIndexFunc(token, isAlnum)
	_, size := utf8.DecodeRuneInString(token[end:])
	return token[:start], token[start : end+size], token[end+size:]
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

// digitSymbols are the non-decimal digits (superscript, subscript, circled)
// that still carry a digit value.
var digitSymbols = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x00b2, Hi: 0x00b3, Stride: 1},
		{Lo: 0x00b9, Hi: 0x00b9, Stride: 1},
		{Lo: 0x1369, Hi: 0x1371, Stride: 1},
		{Lo: 0x2070, Hi: 0x2070, Stride: 1},
		{Lo: 0x2074, Hi: 0x2079, Stride: 1},
		{Lo: 0x2080, Hi: 0x2089, Stride: 1},
		{Lo: 0x2460, Hi: 0x2468, Stride: 1},
		{Lo: 0x2474, Hi: 0x247c, Stride: 1},
		{Lo: 0x2488, Hi: 0x2490, Stride: 1},
		{Lo: 0x24ea, Hi: 0x24ea, Stride: 1},
		{Lo: 0x24f5, Hi: 0x24fd, Stride: 1},
		{Lo: 0x24ff, Hi: 0x24ff, Stride: 1},
		{Lo: 0x2776, Hi: 0x277e, Stride: 1},
		{Lo: 0x2780, Hi: 0x2788, Stride: 1},
		{Lo: 0x278a, Hi: 0x2792, Stride: 1},
	},
	R32: []unicode.Range32{
		{Lo: 0x1f100, Hi: 0x1f10a, Stride: 1},
	},
	LatinOffset: 2,
}

func isDigit(r rune) bool {
	return unicode.IsDigit(r) || unicode.Is(digitSymbols, r)
}

// countCyrillic counts the Russian alphabet only: а-я and ё
func countCyrillic(text string) int {
	n := 0
	for _, r := range strings.ToLower(text) {
		if (r >= 'а' && r <= 'я') || r == 'ё' {
			n++
		}
	}
	return n
}

// countLatin counts unaccented a-z only
func countLatin(text string) int {
	n := 0
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			n++
		}
	}
	return n
}
