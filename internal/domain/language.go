package domain

// SupportedLanguages is the closed set offered in the language selection prompt.
var SupportedLanguages = []string{"es", "fr", "de", "hi", "ja"}

// IsSupportedLanguage reports whether code is one of SupportedLanguages.
func IsSupportedLanguage(code string) bool {
	for _, l := range SupportedLanguages {
		if l == code {
			return true
		}
	}
	return false
}
