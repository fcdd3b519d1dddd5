// Package embedded provides embedded static assets for the application.
package embedded

import (
	"embed"
)

// Files contains the dashboard served at "/" (static/index.html and assets).
//
//go:embed static
var Files embed.FS
