package service

import "testing"

func TestLanguageName(t *testing.T) {
	tests := map[string]string{
		"fr-fr": "French",
		"FR-FR": "French",
		"en-us": "English",
		"es-es": "Spanish",
		"de-de": "French",
		"":      "French",
	}
	for dialect, want := range tests {
		if got := LanguageName(dialect); got != want {
			t.Errorf("LanguageName(%q) = %q, want %q", dialect, got, want)
		}
	}
}

func TestNormalizeLanguageCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Français", "fr"},
		{"english", "en"},
		{"en-US", "en"},
		{"pt_BR", "pt"},
		{"  Español ", "es"},
		{"中文", "zh"},
		{"klingon", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeLanguageCode(tt.in); got != tt.want {
				t.Errorf("NormalizeLanguageCode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLanguageLabel(t *testing.T) {
	if got := LanguageLabel("vi"); got != "Vietnamese" {
		t.Errorf("LanguageLabel(vi) = %q", got)
	}
	if got := LanguageLabel("xx"); got != "xx" {
		t.Errorf("LanguageLabel(xx) = %q", got)
	}
}
