package core

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

//go:embed prompts/system_instruction.md
var systemInstruction string

// BuildSystemInstruction returns the persona prompt, followed by the workshop
// manual excerpt when one is given.
func BuildSystemInstruction(manual string) string {
	base := strings.TrimSpace(systemInstruction)
	manual = strings.TrimSpace(manual)
	if manual == "" {
		return base
	}
	return base + "\n\n**Your knowledge is based on the official Mazda RX-8 workshop manual. A relevant excerpt is provided below for reference.**\n\nWorkshop Manual Data:\n" + manual
}

// LoadManual reads the workshop manual excerpt from path. An empty path yields
// an empty excerpt.
func LoadManual(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read manual file %s: %w", path, err)
	}
	return string(data), nil
}
