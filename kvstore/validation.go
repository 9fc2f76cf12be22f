package kvstore

import (
	"strings"
	"unicode"
)

// NameValid returns true if a container name is usable as a file name on every
// platform - unicode letters, digits and the characters '.', '@', '+', '-', '_'.
// The name must not be empty or start with '.'.
func NameValid(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	const validRunes = ".@+-_"
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !strings.ContainsRune(validRunes, r) {
			return false
		}
	}
	return true
}
