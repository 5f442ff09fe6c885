// Package voice reads finished answers aloud.
package voice

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	abbreviation = regexp.MustCompile(`\b([A-Z]{2,})\b`)
	minusNumber  = regexp.MustCompile(`(^|\s)-(\d)`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// Words spoken for symbols. Longer keys are replaced first.
var symbolWords = strings.NewReplacer(
	"<think>", "", "</think>", "",
	"Hola", "oh lah", "hola", "oh lah",
	"(", "", ")", "", "¡", "", "!", ". ", `"`, "", "'", "",
	"=", " equals ", "%", " percent ", "#", " hashtag ", "@", " at ", "&", " and ", "/", " slash ",
	"+", " plus ", "*", " times ", "÷", " divided by ", "×", " times ", "±", " plus or minus ",
	"∞", " infinity ", "√", " square root ", "∑", " sum ", "∏", " product ", "∆", " delta ", "π", " pi ",
	"²", " squared ", "³", " cubed ", "⁴", " to the fourth power ", "⁵", " to the fifth power ",
	"⁶", " to the sixth power ", "⁷", " to the seventh power ", "⁸", " to the eighth power ",
	"⁹", " to the ninth power ", "¹", " to the first power ", "⁰", " to the zeroth power ",
	"½", " one half ", "⅓", " one third ", "⅔", " two thirds ", "¼", " one quarter ", "¾", " three quarters ",
	"⅛", " one eighth ", "⅜", " three eighths ", "⅝", " five eighths ", "⅞", " seven eighths ",
	"≤", " less than or equal to ", "≥", " greater than or equal to ", "<", " less than ", ">", " greater than ",
	"≠", " not equal to ", "≈", " approximately equal to ", "≡", " identical to ",
	"$", " dollar ", "€", " euro ", "£", " pound ", "¥", " yen ", "¢", " cent ",
	"°", " degrees ", "©", " copyright ", "®", " registered ", "™", " trademark ", "§", " section ",
	"¶", " paragraph ", "•", " bullet ", "→", " arrow ", "←", " left arrow ", "↑", " up arrow ",
	"↓", " down arrow ", "↔", " double arrow ", "…", " ellipsis ", "‰", " per mille ",
)

// Clean turns an answer into text suitable for speech: tool calls are
// dropped (strip removes them), symbols become words, emoji go away and
// abbreviations are spelled out letter by letter.
func Clean(text string, strip func(string) string) string {
	if strip != nil {
		text = strip(text)
	}
	text = minusNumber.ReplaceAllString(text, "${1} minus ${2}")
	text = strings.ReplaceAll(text, "-", " ")
	text = symbolWords.Replace(text)
	text = strings.Map(func(r rune) rune {
		if unicode.In(r, unicode.So, unicode.Sm, unicode.Sc, unicode.Sk) || r == '\ufe0f' || r == '\u200d' {
			return -1
		}
		return r
	}, text)
	text = abbreviation.ReplaceAllStringFunc(text, func(s string) string {
		return strings.Join(strings.Split(s, ""), ", ")
	})
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}
