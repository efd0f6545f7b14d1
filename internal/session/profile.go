package session

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultAvatarTemplate is filled with the username to build avatar URLs.
const DefaultAvatarTemplate = "https://avatars.dicebear.com/api/adventurer-neutral/%s.svg"

// AvatarMapper turns a username into an avatar URL. It must be pure.
type AvatarMapper func(username string) string

// DiceBearAvatar is the default AvatarMapper.
func DiceBearAvatar(username string) string {
	return fmt.Sprintf(DefaultAvatarTemplate, url.PathEscape(username))
}

// UserProfile is a roster entry.
type UserProfile struct {
	Name      string
	AvatarURL string
}

// ContentKind says how a message body should be presented.
type ContentKind int

const (
	ContentText ContentKind = iota
	ContentImage
)

func (k ContentKind) String() string {
	if k == ContentImage {
		return "image"
	}
	return "text"
}

// ChatMessage is one entry of the message log.
type ChatMessage struct {
	From string
	Body string
}

// Kind classifies a body ending in ".gif" (case-sensitive) as an image link.
func (m ChatMessage) Kind() ContentKind {
	if strings.HasSuffix(m.Body, ".gif") {
		return ContentImage
	}
	return ContentText
}
