package providers

import (
	"fmt"
	"strconv"
	"strings"
)

// parseAmount reads a decimal money string, tolerating a leading sign
// and currency noise like "$" or ",".
func parseAmount(s string) (float64, error) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return v, nil
}

// cursorPage decodes a page-number cursor; empty or malformed means the
// first page.
func cursorPage(cursor string) int {
	if cursor == "" {
		return 0
	}
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 1 {
		return 0
	}
	return n
}

func formatPage(n int) string {
	return strconv.Itoa(n)
}
