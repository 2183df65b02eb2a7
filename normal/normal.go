// Package normal contains small string normalizers, which can be chained.
package normal

import (
	"strings"
	"unicode"
)

type Pipeline struct {
	Normalizer []Normalizer
}

func (p *Pipeline) Normalize(s string) string {
	for _, n := range p.Normalizer {
		s = n.Normalize(s)
	}
	return s
}

type Normalizer interface {
	Normalize(string) string
}

// SimpleNormalizer lowercases.
type SimpleNormalizer struct{}

func (s *SimpleNormalizer) Normalize(v string) string {
	return strings.ToLower(v)
}

// TrimNormalizer removes leading and trailing whitespace.
type TrimNormalizer struct{}

func (s *TrimNormalizer) Normalize(v string) string {
	return strings.TrimSpace(v)
}

// CollapseWSNormalizer replaces runs of whitespace with a single space.
type CollapseWSNormalizer struct{}

func (s *CollapseWSNormalizer) Normalize(v string) string {
	var (
		b       strings.Builder
		inSpace bool
	)
	for _, c := range v {
		if unicode.IsSpace(c) {
			if !inSpace {
				b.WriteRune(' ')
			}
			inSpace = true
			continue
		}
		inSpace = false
		b.WriteRune(c)
	}
	return b.String()
}

// NormalizerFunc adapts a plain function.
type NormalizerFunc func(string) string

func (f NormalizerFunc) Normalize(v string) string {
	return f(v)
}

func ReplaceNewlineAndTab(s string) string {
	var sb strings.Builder
	for _, c := range s {
		if c == '\n' || c == '\t' {
			sb.WriteString(" ")
		} else {
			sb.WriteRune(c)
		}
	}
	return sb.String()
}
