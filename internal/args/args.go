// Package args expands @file indirection arguments before flag parsing.
package args

import (
	"fmt"
	"os"
	"strings"
)

// Prefix marks an argument naming a file whose lines replace it.
const Prefix = "@"

// Expand returns a copy of args where every argument starting with Prefix is
// replaced, in place, by the lines of the file it names. Each line becomes one
// argument, so keys and values must be split across lines or joined with "="
// as in --foo=bar. Expansion is not recursive.
func Expand(args []string) ([]string, error) {
	expanded := make([]string, 0, len(args))
	for _, arg := range args {
		path, ok := strings.CutPrefix(arg, Prefix)
		if !ok {
			expanded = append(expanded, arg)
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		expanded = append(expanded, lines(string(data))...)
	}

	return expanded, nil
}

// lines splits on \n, dropping a trailing \r from each line and not producing
// an empty final element for a terminated last line.
func lines(s string) []string {
	if s == "" {
		return nil
	}

	s = strings.TrimSuffix(s, "\n")
	parts := strings.Split(s, "\n")
	for i, p := range parts {
		parts[i] = strings.TrimSuffix(p, "\r")
	}

	return parts
}
