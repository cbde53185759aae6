// Package templates embeds the HTML screens served by the web package.
package templates

import "embed"

//go:embed base.html pages/*.html
var FS embed.FS
