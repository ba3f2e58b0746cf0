// Package textnorm cleans scraped text and pulls numeric quantities out of it.
package textnorm

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	volumeRe     = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*л`)
	abvRe        = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*%`)
	priceRe      = regexp.MustCompile(`\d[\d\s]*`)
	splitRe      = regexp.MustCompile(`[\n;,]`)
)

// Clean collapses whitespace runs, including non-breaking spaces, into single
// spaces and trims the result.
func Clean(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// VolumeLiters extracts "0,7 л" style volumes.
func VolumeLiters(s string) *float64 {
	return firstNumber(volumeRe, s)
}

// ABVPercent extracts "40 %" style strengths.
func ABVPercent(s string) *float64 {
	return firstNumber(abvRe, s)
}

// Price extracts the first digit group of s, ignoring thousands separators.
func Price(s string) *float64 {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	m := priceRe.FindString(s)
	if m == "" {
		return nil
	}
	digits := strings.Join(strings.Fields(m), "")
	v, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return nil
	}
	return &v
}

// SplitList splits on newlines, semicolons and commas and drops empty items.
func SplitList(s string) []string {
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	var out []string
	for _, part := range splitRe.Split(s, -1) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNumber(re *regexp.Regexp, s string) *float64 {
	if s == "" {
		return nil
	}
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil {
		return nil
	}
	return &v
}
