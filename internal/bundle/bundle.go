// Package bundle joins resolved source files into a single script.
//
// Layout of a bundle:
//
//	copyright header   (a doc comment stamped with the version)
//	prefix             (opens a closure and installs define/require)
//	top-level blocks   (two-space indented, unwrapped)
//	namespaced blocks  (four-space indented, inside define('<ns>', ...))
//	postfix            (exports require and closes the closure)
//
// Blocks are ordered top-level first, then by namespace ascending. The output
// depends only on the files and the version, so rebuilding unchanged inputs
// yields byte-identical bundles.
package bundle

import (
	"slices"
	"strings"

	paqerrors "github.com/conneroisu/paq/internal/errors"
	"github.com/conneroisu/paq/internal/namespace"
)

const (
	topLevelIndent   = "  "
	namespacedIndent = "    "
)

// Bundle is the joined output document.
type Bundle string

// String returns the bundle text.
func (b Bundle) String() string { return string(b) }

// Header describes the copyright comment that opens every bundle.
type Header struct {
	Name    string
	Author  string
	URL     string
	License string
}

// DefaultHeader is used when no header is configured.
var DefaultHeader = Header{
	Name:    "bundle.js",
	Author:  "paq",
	URL:     "https://github.com/conneroisu/paq",
	License: "MIT License",
}

// Copyright renders the header comment for version.
func (h Header) Copyright(version string) string {
	lines := []string{
		"/**",
		" * @fileOverview",
		" * @name " + h.Name,
		" * @author " + h.Author,
	}
	if h.URL != "" {
		lines = append(lines, " * @url "+h.URL)
	}
	lines = append(lines,
		" * @version "+version,
		" * @license "+h.License,
		" */",
		"",
	)
	return strings.Join(lines, "\n")
}

// Prefix opens the bundle closure and installs a minimal module registry:
// define(name, factory) records a factory and require(name) evaluates it once.
func Prefix() string {
	return strings.Join([]string{
		";(function () {",
		"  'use strict';",
		"",
		"  var Module = (function () {",
		"    var factories = {}, cache = {};",
		"    return {",
		"      define: function (name, factory) {",
		"        factories[name] = factory;",
		"        delete cache[name];",
		"      },",
		"      require: function (name) {",
		"        if (!(name in cache)) {",
		"          if (!(name in factories)) {",
		"            throw new Error('module not found: ' + name);",
		"          }",
		"          var module = { exports: {} };",
		"          cache[name] = module;",
		"          factories[name].call(module.exports, Module.require, module, module.exports);",
		"        }",
		"        return cache[name].exports;",
		"      }",
		"    };",
		"  })();",
		"  var define = Module.define, require = Module.require;",
		"",
		"",
	}, "\n")
}

// Postfix hands the module registry to the enclosing scope and closes the
// bundle closure.
func Postfix() string {
	return strings.Join([]string{
		"  this.require = Module.require;",
		"",
		"}).call(this);",
		"",
	}, "\n")
}

// Aggregator builds bundles with a fixed header.
type Aggregator struct {
	Header Header
}

// New returns an Aggregator using header, or DefaultHeader when header is
// the zero value.
func New(header Header) *Aggregator {
	if header == (Header{}) {
		header = DefaultHeader
	}
	return &Aggregator{Header: header}
}

// Aggregate builds a bundle with DefaultHeader.
func Aggregate(files []namespace.SourceFile, version string) Bundle {
	return New(Header{}).Aggregate(files, version)
}

// Aggregate orders files and wraps them into a bundle. The input slice is
// not modified.
func (a *Aggregator) Aggregate(files []namespace.SourceFile, version string) Bundle {
	ordered := Order(files)

	blocks := make([]string, len(ordered))
	for i, f := range ordered {
		blocks[i] = Wrap(f)
	}

	var b strings.Builder
	b.WriteString(a.Header.Copyright(version))
	b.WriteString(Prefix())
	b.WriteString(strings.Join(blocks, "\n"))
	b.WriteString(Postfix())
	return Bundle(b.String())
}

// Order returns a copy of files sorted top-level first, then by namespace.
// Files sharing a namespace keep their input order.
func Order(files []namespace.SourceFile) []namespace.SourceFile {
	ordered := slices.Clone(files)
	slices.SortStableFunc(ordered, compare)
	return ordered
}

func compare(a, b namespace.SourceFile) int {
	if a.TopLevel != b.TopLevel {
		if a.TopLevel {
			return -1
		}
		return 1
	}
	return strings.Compare(a.Namespace, b.Namespace)
}

// Wrap renders the block for a single file.
func Wrap(f namespace.SourceFile) string {
	if f.TopLevel {
		return indent(f.Content, topLevelIndent) + "\n"
	}
	return "  define('" + f.Namespace + "', function (require, module, exports) {\n" +
		indent(f.Content, namespacedIndent) + "\n" +
		"  });\n"
}

func indent(code, margin string) string {
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		lines[i] = margin + line
	}
	return strings.Join(lines, "\n")
}

// Collision is a namespace defined by more than one file.
type Collision struct {
	Namespace string
	Paths     []string
}

// Err converts the collision into a structured error.
func (c Collision) Err() error {
	return paqerrors.NewCollisionError(c.Namespace, c.Paths)
}

// Collisions lists namespaces registered by more than one define block, in
// namespace order. At runtime the last block in bundle order wins. Top-level
// files are never registered and cannot collide.
func Collisions(files []namespace.SourceFile) []Collision {
	byNamespace := make(map[string][]string)
	for _, f := range files {
		if f.TopLevel {
			continue
		}
		byNamespace[f.Namespace] = append(byNamespace[f.Namespace], f.Path)
	}

	var out []Collision
	for ns, paths := range byNamespace {
		if len(paths) > 1 {
			out = append(out, Collision{Namespace: ns, Paths: paths})
		}
	}
	slices.SortFunc(out, func(a, b Collision) int {
		return strings.Compare(a.Namespace, b.Namespace)
	})
	return out
}

// Concat joins the raw content of files in the given order. It is the input
// of the minifier when no bundle is produced.
func Concat(files []namespace.SourceFile) string {
	parts := make([]string, len(files))
	for i, f := range files {
		parts[i] = f.Content
	}
	return strings.Join(parts, "\n")
}
