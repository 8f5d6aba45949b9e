package speech

import (
	"strings"

	"golang.org/x/text/language"
)

// SelectVoice picks the best voice for lang: exact language-region match,
// then same base language, then an English default, then any default, then
// the first voice. Within each of the first two tiers a default voice wins.
// ok is false only when the catalog is empty.
func SelectVoice(voices []Voice, lang string) (Voice, bool) {
	if len(voices) == 0 {
		return Voice{}, false
	}
	want := canonical(lang)
	wantBase := baseOf(lang)

	pick := func(match func(Voice) bool) (Voice, bool) {
		var first *Voice
		for i := range voices {
			if !match(voices[i]) {
				continue
			}
			if voices[i].Default {
				return voices[i], true
			}
			if first == nil {
				first = &voices[i]
			}
		}
		if first != nil {
			return *first, true
		}
		return Voice{}, false
	}

	if want != "" {
		if v, ok := pick(func(v Voice) bool { return canonical(v.Lang) == want }); ok {
			return v, true
		}
	}
	if wantBase != "" {
		if v, ok := pick(func(v Voice) bool { return baseOf(v.Lang) == wantBase }); ok {
			return v, true
		}
	}
	for _, v := range voices {
		if v.Default && baseOf(v.Lang) == "en" {
			return v, true
		}
	}
	for _, v := range voices {
		if v.Default {
			return v, true
		}
	}
	return voices[0], true
}

func canonical(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil {
		return strings.ToLower(tag)
	}
	return t.String()
}

// baseOf returns the ISO 639 base language ("hi" for "hi-IN").
func baseOf(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil {
		b, _, _ := strings.Cut(strings.ToLower(tag), "-")
		return b
	}
	base, _ := t.Base()
	return base.String()
}

// BaseLanguage is the base subtag sent to the LLM, "en" when tag is unusable.
func BaseLanguage(tag string) string {
	if b := baseOf(tag); b != "" && b != "und" {
		return b
	}
	return "en"
}
