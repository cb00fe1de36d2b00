package report

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"example.com/schcgate/internal/schc"
)

// Language is a locale code with an embedded label table.
type Language string

const (
	LangEnglish Language = "en"
	LangSpanish Language = "es"
)

// ErrUnsupportedLanguage is returned for codes without a locale table.
var ErrUnsupportedLanguage = errors.New("report: unsupported language")

//go:embed *.json
var localeFS embed.FS

// locales maps every embedded <code>.json table. English is the reference:
// loadLocales fails if another table lacks one of its keys.
var locales = mustLoadLocales(localeFS)

var languageAliases = map[string]Language{
	"":        LangEnglish,
	"en-us":   LangEnglish,
	"en-gb":   LangEnglish,
	"english": LangEnglish,
	"es-es":   LangSpanish,
	"es-cl":   LangSpanish,
	"es-mx":   LangSpanish,
	"spanish": LangSpanish,
	"español": LangSpanish,
	"espanol": LangSpanish,
}

func mustLoadLocales(fsys fs.FS) map[Language]map[string]string {
	tables, err := loadLocales(fsys)
	if err != nil {
		panic(err)
	}
	return tables
}

func loadLocales(fsys fs.FS) (map[Language]map[string]string, error) {
	files, err := fs.Glob(fsys, "*.json")
	if err != nil {
		return nil, err
	}
	tables := make(map[Language]map[string]string, len(files))
	for _, file := range files {
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("report: read locale %s: %w", file, err)
		}
		var table map[string]string
		if err := json.Unmarshal(data, &table); err != nil {
			return nil, fmt.Errorf("report: parse locale %s: %w", file, err)
		}
		tables[Language(strings.TrimSuffix(file, ".json"))] = table
	}
	ref, ok := tables[LangEnglish]
	if !ok {
		return nil, errors.New("report: no en.json locale")
	}
	for lang, table := range tables {
		var missing []string
		for key := range ref {
			if _, ok := table[key]; !ok {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return nil, fmt.Errorf("report: locale %s lacks %s", lang, strings.Join(missing, ", "))
		}
	}
	return tables, nil
}

// Translator renders report labels and values in one language.
type Translator struct {
	lang  Language
	table map[string]string
}

// NewTranslator falls back to English for unknown languages.
func NewTranslator(lang Language) Translator {
	table, ok := locales[lang]
	if !ok {
		lang, table = LangEnglish, locales[LangEnglish]
	}
	return Translator{lang: lang, table: table}
}

func (t Translator) Lang() Language {
	return t.lang
}

// T returns the label for key, or key itself when no table has it.
func (t Translator) T(key string) string {
	if val, ok := t.table[key]; ok {
		return val
	}
	return key
}

func (t Translator) format(key string, args ...any) string {
	return fmt.Sprintf(t.T(key), args...)
}

// Pass labels a pass/fail check.
func (t Translator) Pass(ok bool) string {
	if ok {
		return t.T("pass")
	}
	return t.T("fail")
}

// Outcome localizes a Result outcome ("Verified" or an error kind). Unknown
// outcomes are shown as is.
func (t Translator) Outcome(outcome string) string {
	if val, ok := t.table["outcome."+outcome]; ok {
		return val
	}
	return outcome
}

func (t Translator) Layout(l schc.Layout) string {
	return t.format("layoutValue", l.RuleIDBits, l.FCNBits)
}

func (t Translator) Bytes(n int) string {
	return t.format("bytes", n)
}

// FCNs lists fragment counters, or the localized "none".
func (t Translator) FCNs(vals []int) string {
	if len(vals) == 0 {
		return t.T("none")
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}

// Checksum renders an RCS value the way the wire carries it.
func (t Translator) Checksum(v uint32) string {
	return fmt.Sprintf("0x%08X", v)
}

// ParseLanguage converts a flag or query value into a Language.
func ParseLanguage(lang string) (Language, error) {
	code := strings.ToLower(strings.TrimSpace(lang))
	if l, ok := languageAliases[code]; ok {
		return l, nil
	}
	if _, ok := locales[Language(code)]; ok {
		return Language(code), nil
	}
	return LangEnglish, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
}
