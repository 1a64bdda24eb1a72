package core

// starterSuggestions are common RX-8 complaints offered before the first
// message. Choosing one sends it as an ordinary user turn.
var starterSuggestions = []string{
	"No start when engine is warm",
	"Rough idle after startup",
	"White smoke from exhaust",
	"Clunking noise from rear",
}

func Suggestions() []string {
	return append([]string(nil), starterSuggestions...)
}
