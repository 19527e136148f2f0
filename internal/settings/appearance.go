package settings

import "strings"

// Theme modes accepted by the embedded form.
const (
	ThemeLight  = "light"
	ThemeDark   = "dark"
	ThemeCustom = "custom"
)

// Appearance is handed to the embedded form next to the signed payload.
type Appearance struct {
	Theme     string            `json:"theme"`
	Variables map[string]string `json:"variables,omitempty"`
}

// AppearanceConfig builds the form appearance. Colour variables are only
// sent for the custom theme and only when set.
func (g Gateway) AppearanceConfig() Appearance {
	theme := strings.ToLower(strings.TrimSpace(g.ThemeMode))
	switch theme {
	case ThemeLight, ThemeDark, ThemeCustom:
	default:
		theme = ThemeLight
	}
	out := Appearance{Theme: theme}
	if theme != ThemeCustom {
		return out
	}
	vars := map[string]string{}
	add := func(name, value string) {
		if v := strings.TrimSpace(value); v != "" {
			vars[name] = v
		}
	}
	add("colorPrimary", g.ColorPrimary)
	add("colorBackground", g.ColorBackground)
	add("colorText", g.ColorText)
	add("colorBorder", g.ColorBorder)
	add("borderRadius", g.BorderRadius)
	if len(vars) > 0 {
		out.Variables = vars
	}
	return out
}

var sdkLocales = map[string]string{
	"en": "en-US",
	"el": "el-GR",
	"ro": "ro-RO",
}

// Locale maps a store language (en, ro_RO, el-GR) to an SDK locale.
func Locale(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "_-"); i > 0 {
		lang = lang[:i]
	}
	if locale, ok := sdkLocales[lang]; ok {
		return locale
	}
	return "en-US"
}

// FormatPhone keeps digits and '+' and ensures a leading '+'.
func FormatPhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		return ""
	}
	if !strings.HasPrefix(out, "+") {
		out = "+" + out
	}
	return out
}
