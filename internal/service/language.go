package service

import "strings"

// Dialect tags accepted by the scoring service.
const (
	DialectFrench  = "fr-fr"
	DialectEnglish = "en-us"
	DialectSpanish = "es-es"
)

// LanguageName returns the prompt name for a scoring dialect. Unrecognized
// dialects are treated as French.
func LanguageName(dialect string) string {
	switch strings.ToLower(dialect) {
	case DialectEnglish:
		return "English"
	case DialectSpanish:
		return "Spanish"
	default:
		return "French"
	}
}

var languageKeywords = []struct {
	code     string
	label    string
	keywords []string
}{
	{"en", "English", []string{"english", "anglais", "inglés", "ingles", "en"}},
	{"fr", "French", []string{"french", "français", "francais", "fr"}},
	{"es", "Spanish", []string{"spanish", "español", "espanol", "espagnol", "es"}},
	{"ar", "Arabic", []string{"arabic", "arabe", "العربية", "ar"}},
	{"zh", "Chinese", []string{"chinese", "mandarin", "chinois", "中文", "zh"}},
	{"de", "German", []string{"german", "deutsch", "allemand", "de"}},
	{"it", "Italian", []string{"italian", "italiano", "italien", "it"}},
	{"pt", "Portuguese", []string{"portuguese", "português", "portugues", "portugais", "pt"}},
	{"vi", "Vietnamese", []string{"vietnamese", "tiếng việt", "vietnamien", "vi"}},
	{"hi", "Hindi", []string{"hindi", "हिन्दी", "hi"}},
	{"pl", "Polish", []string{"polish", "polski", "polonais", "pl"}},
	{"tr", "Turkish", []string{"turkish", "türkçe", "turc", "tr"}},
}

// NormalizeLanguageCode maps a free-form language name or tag ("Français",
// "en-US", "spanish") to a two-letter code. Unknown input returns "".
func NormalizeLanguageCode(input string) string {
	v := strings.ToLower(strings.TrimSpace(input))
	if v == "" {
		return ""
	}
	if i := strings.IndexAny(v, "-_"); i > 0 {
		v = v[:i]
	}
	for _, lang := range languageKeywords {
		for _, kw := range lang.keywords {
			if v == kw {
				return lang.code
			}
		}
	}
	return ""
}

// LanguageLabel returns the English label for a two-letter code, or the
// code itself when unknown.
func LanguageLabel(code string) string {
	for _, lang := range languageKeywords {
		if lang.code == code {
			return lang.label
		}
	}
	return code
}
