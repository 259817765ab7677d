// Package assets embeds the web viewer served by the heliomap server.
// index.html is generated from index.html.tpl by cmd/minify.
package assets

import _ "embed"

//go:embed index.html
var Index []byte

//go:embed favicon.png
var Favicon []byte
