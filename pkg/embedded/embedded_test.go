package embedded

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDashboardEmbedded(t *testing.T) {
	data, err := fs.ReadFile(Files, "static/index.html")
	require.NoError(t, err)

	page := string(data)
	assert.Contains(t, page, "/api/holdings")
	// Instrument names come from imported CSV files and are rendered as text
	assert.NotContains(t, page, "innerHTML")
	assert.Contains(t, page, "td.textContent")
}
