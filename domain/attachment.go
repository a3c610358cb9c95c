package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const fallbackExtension = "bin"

var extensionPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,16}$`)

// Attachment is a raw payload with the name the client gave it.
type Attachment struct {
	Name string
	Data []byte
}

// StoredName builds the name an attachment is persisted under:
// "<unix millis>.<extension>". The extension comes from the original name,
// or is sniffed from the payload when the original has none we can trust.
func StoredName(at time.Time, attachment Attachment) string {
	return fmt.Sprintf("%d.%s", at.UnixMilli(), Extension(attachment))
}

func Extension(attachment Attachment) string {
	if i := strings.LastIndex(attachment.Name, "."); i >= 0 {
		if ext := attachment.Name[i+1:]; extensionPattern.MatchString(ext) {
			return strings.ToLower(ext)
		}
	}
	ext := strings.TrimPrefix(mimetype.Detect(attachment.Data).Extension(), ".")
	if !extensionPattern.MatchString(ext) {
		return fallbackExtension
	}
	return ext
}
