package present

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"
)

const (
	gradientStart = "#F967DC"
	gradientEnd   = "#6B50FF"
)

// MakeGradientRamp returns a color ramp of the given length.
func MakeGradientRamp(length int) []lipgloss.Color {
	var (
		c        = make([]lipgloss.Color, length)
		start, _ = colorful.Hex(gradientStart)
		end, _   = colorful.Hex(gradientEnd)
	)
	for i := range length {
		step := start.BlendLuv(end, float64(i)/float64(length))
		c[i] = lipgloss.Color(step.Hex())
	}
	return c
}

// MakeGradientText renders str with a gradient applied rune by rune.
func MakeGradientText(baseStyle lipgloss.Style, str string) string {
	const minSize = 3
	runes := []rune(str)
	if len(runes) < minSize {
		return str
	}
	var b strings.Builder
	for i, c := range MakeGradientRamp(len(runes)) {
		b.WriteString(baseStyle.Foreground(c).Render(string(runes[i])))
	}
	return b.String()
}

// Banner is the greeting printed when a chat starts.
func Banner(s Styles) string {
	return MakeGradientText(s.AppName, "ʕ•ᴥ•ʔ Gizmo")
}
