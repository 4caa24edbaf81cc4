package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "plain", input: "hello world", want: "hello world"},
		{name: "sql metacharacters stripped", input: `drop table; -- 'users'`, want: "drop table  users"},
		{name: "html escaped", input: "<b>bold</b>", want: "&lt;b&gt;bold&lt;/b&gt;"},
		{name: "control characters dropped", input: "a\x00b\x1fc\nd", want: "abcd"},
		{name: "unicode preserved", input: "héllo wörld 🎉", want: "héllo wörld 🎉"},
		{name: "dashes stripped", input: "well-known", want: "wellknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Text(tt.input))
		})
	}
}

func TestText_Truncation(t *testing.T) {
	long := strings.Repeat("a", MaxMessageLen+100)
	got := Text(long)
	assert.Len(t, []rune(got), MaxMessageLen)
}

func TestText_TruncationCountsRunes(t *testing.T) {
	long := strings.Repeat("ü", MaxMessageLen+1)
	got := Text(long)
	assert.Len(t, []rune(got), MaxMessageLen)
}

func TestCleanUser(t *testing.T) {
	u, err := CleanUser(42, `bob;`, "<Bob>")
	require.NoError(t, err)
	assert.Equal(t, int64(42), u.ID)
	assert.Equal(t, "bob", u.Username)
	assert.Equal(t, "&lt;Bob&gt;", u.FirstName)
}

func TestCleanUser_InvalidID(t *testing.T) {
	_, err := CleanUser(0, "bob", "Bob")
	require.Error(t, err)

	_, err = CleanUser(-5, "bob", "Bob")
	require.Error(t, err)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Bob", User{Username: "bob", FirstName: "Bob"}.DisplayName())
	assert.Equal(t, "bob", User{Username: "bob"}.DisplayName())
}
