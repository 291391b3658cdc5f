package ascii

import (
	"fmt"
	"strings"
)

// Style is a character-density table, ordered from darkest to brightest
type Style struct {
	Name    string
	Charset []rune
}

// Len returns the number of characters in the table
func (s Style) Len() int {
	return len(s.Charset)
}

// Built-in styles. Only the table differs between them.
var (
	StyleMinimal  = newStyle("minimal", " .,:-=+*#%@")
	StyleDetailed = newStyle("detailed", " .'`^\",:;Il!i><~+_-?][}{1)(|\\/tfjrxnuvczXYUJCLQ0OZmwqpdbkhao*#MW&8%B@$")
	StyleBlocks   = newStyle("blocks", " ░▒▓█")
	StyleGradient = newStyle("gradient", " ▁▂▃▄▅▆▇█")
	StyleLight    = newStyle("light", " .·-=+*oO#@")
	StyleDark     = newStyle("dark", "@#*+=-·. ")
)

var builtin = []Style{StyleMinimal, StyleDetailed, StyleBlocks, StyleGradient, StyleLight, StyleDark}

func newStyle(name, chars string) Style {
	return Style{Name: name, Charset: []rune(chars)}
}

// Styles returns the built-in styles in a stable order
func Styles() []Style {
	out := make([]Style, len(builtin))
	copy(out, builtin)
	return out
}

// ParseStyle looks up a built-in style by name
func ParseStyle(name string) (Style, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, s := range builtin {
		if s.Name == name {
			return s, nil
		}
	}
	return Style{}, fmt.Errorf("unknown ascii style %q", name)
}
