// Package sanitize scrubs untrusted Telegram input before it reaches
// storage or the summarizer prompt.
package sanitize

import (
	"fmt"
	"html"
	"strings"
)

// MaxMessageLen is Telegram's message length cap; anything longer is truncated.
const MaxMessageLen = 4096

// Text scrubs a message body: SQL metacharacters are stripped, HTML
// entities escaped, control characters dropped and the result truncated
// to MaxMessageLen runes. Queries are parameterized everywhere, so the
// metacharacter strip is defense in depth for text that later lands in
// prompts and Telegram replies.
func Text(text string) string {
	if text == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch r {
		case ';', '\'', '"', '-':
			continue
		}
		if r < 0x20 {
			continue
		}
		b.WriteRune(r)
	}

	out := html.EscapeString(b.String())

	runes := []rune(out)
	if len(runes) > MaxMessageLen {
		return string(runes[:MaxMessageLen])
	}
	return out
}

// User holds scrubbed identity fields for a Telegram user.
type User struct {
	ID        int64
	Username  string
	FirstName string
}

// CleanUser validates the user ID and scrubs the name fields.
func CleanUser(id int64, username, firstName string) (User, error) {
	if id <= 0 {
		return User{}, fmt.Errorf("invalid user id %d", id)
	}
	return User{
		ID:        id,
		Username:  Text(username),
		FirstName: Text(firstName),
	}, nil
}

// DisplayName returns the name used in transcripts: first name when
// present, username otherwise.
func (u User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Username
}
