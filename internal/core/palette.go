package core

import (
	"strconv"
	"strings"
)

// Feeling is one entry of the emoji palette.
type Feeling struct {
	Emoji string
	Label string
}

// Palette is the fixed set of feelings offered to users.
var Palette = []Feeling{
	{Emoji: "😊", Label: "Happy"},
	{Emoji: "😢", Label: "Sad"},
	{Emoji: "😡", Label: "Angry"},
	{Emoji: "😍", Label: "Love"},
	{Emoji: "😴", Label: "Tired"},
	{Emoji: "🤗", Label: "Excited"},
	{Emoji: "😰", Label: "Anxious"},
	{Emoji: "😌", Label: "Calm"},
	{Emoji: "🤔", Label: "Thinking"},
	{Emoji: "😋", Label: "Hungry"},
	{Emoji: "🥳", Label: "Party"},
	{Emoji: "😭", Label: "Crying"},
}

// LookupFeeling resolves a 1-based palette number, a label (any case) or
// the glyph itself.
func LookupFeeling(input string) (Feeling, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Feeling{}, false
	}
	if n, err := strconv.Atoi(input); err == nil {
		if n >= 1 && n <= len(Palette) {
			return Palette[n-1], true
		}
		return Feeling{}, false
	}
	for _, f := range Palette {
		if f.Emoji == input || strings.EqualFold(f.Label, input) {
			return f, true
		}
	}
	return Feeling{}, false
}
