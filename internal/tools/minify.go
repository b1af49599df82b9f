// Package tools wraps the external steps of a build: minification, the test
// runner and the documentation generators.
package tools

import (
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/js"

	paqerrors "github.com/conneroisu/paq/internal/errors"
)

const mediaTypeJS = "application/javascript"

// Minifier compacts script source.
type Minifier interface {
	Minify(code string) (string, error)
}

// JSMinifier minifies JavaScript with tdewolff/minify.
type JSMinifier struct {
	m *minify.M
}

// NewJSMinifier creates a JavaScript minifier.
func NewJSMinifier() *JSMinifier {
	m := minify.New()
	m.Add(mediaTypeJS, &js.Minifier{})
	return &JSMinifier{m: m}
}

// Minify returns the minified form of code.
func (j *JSMinifier) Minify(code string) (string, error) {
	out, err := j.m.String(mediaTypeJS, code)
	if err != nil {
		return "", paqerrors.NewToolError(paqerrors.ErrCodeMinifyFailed, "minify", "minification failed", err)
	}
	return out, nil
}
