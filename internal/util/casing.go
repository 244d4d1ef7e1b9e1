package util

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	splitRegex = regexp.MustCompile(`([A-Z]+[a-z0-9]*|[a-z0-9]+)`)
)

func splitNameIntoParts(name string) []string {
	// Split the string into words
	matches := splitRegex.FindAllStringSubmatch(name, -1)
	words := make([]string, len(matches))
	for i, match := range matches {
		words[i] = match[0]
	}
	return words
}

func replaceWordCasing(s string, fn func(string) string) string {
	switch s {
	case "id":
		return "ID"
	case "ids":
		return "IDs"
	case "url":
		return "URL"
	}
	return fn(s)
}

// EnsureCamelCase converts a Go identifier (or a snake, kebab or spaced name)
// into the lowerCamel form RMI method names use.
func EnsureCamelCase(s string) string {
	words := splitNameIntoParts(s)
	for i := range words {
		if len(words[i]) > 0 {
			word := strings.ToLower(words[i])
			if i == 0 {
				words[i] = string(unicode.ToLower(rune(word[0]))) + word[1:]
			} else {
				words[i] = replaceWordCasing(word, func(str string) string {
					return string(unicode.ToUpper(rune(str[0]))) + str[1:]
				})
			}
		}
	}
	return strings.Join(words, "")
}
