package confdoc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppenderWrite(t *testing.T) {
	var a Appender
	a.Init()
	a.AddConfig("hadoop.scm.enabled", "true", "desc", TagOzone, TagSecurity)

	var out strings.Builder
	require.NoError(t, a.Write(&out))

	assert.Contains(t, out.String(), "<name>hadoop.scm.enabled</name>")
	assert.Contains(t, out.String(), "<tag>OZONE, SECURITY</tag>")
	assert.Contains(t, out.String(), "<value>true</value>")
	assert.True(t, strings.HasPrefix(out.String(), "<?xml"))
}

func TestAppenderInitResets(t *testing.T) {
	var a Appender
	a.AddConfig("first", "1", "")
	a.Init()
	a.AddConfig("second", "2", "")

	var out strings.Builder
	require.NoError(t, a.Write(&out))
	assert.NotContains(t, out.String(), "first")
	assert.Contains(t, out.String(), "<name>second</name>")
}

func TestAppenderEscapes(t *testing.T) {
	var a Appender
	a.AddConfig("x", "<none>", "a & b")

	var out strings.Builder
	require.NoError(t, a.Write(&out))
	assert.Contains(t, out.String(), "&lt;none&gt;")
	assert.Contains(t, out.String(), "a &amp; b")
}
