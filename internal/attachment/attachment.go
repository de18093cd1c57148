// Package attachment turns raw uploads into the data URLs carried as
// message content.
package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/omochice/cipherchat/pkg/protocol"
)

// MaxSize is the largest raw payload accepted.
const MaxSize = 8 << 20

var (
	ErrEmptyAttachment = errors.New("attachment is empty")
	ErrTooLarge        = errors.New("attachment too large")
	ErrKindMismatch    = errors.New("attachment does not match kind")
	ErrNotDataURL      = errors.New("not a base64 data url")
)

// KindFor maps a media type to the message kind that renders it.
func KindFor(mediaType string) protocol.Kind {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return protocol.KindFile
	}
	switch {
	case strings.HasPrefix(mt, "image/"):
		return protocol.KindImage
	case strings.HasPrefix(mt, "video/"):
		return protocol.KindVideo
	default:
		return protocol.KindFile
	}
}

// Encode sniffs raw and returns it as data:<mime>;base64,<payload>. An empty
// kind is inferred from the content. Image and video kinds must match what
// was detected; file accepts anything.
func Encode(kind protocol.Kind, raw []byte) (protocol.Kind, string, error) {
	if len(raw) == 0 {
		return "", "", ErrEmptyAttachment
	}
	if len(raw) > MaxSize {
		return "", "", fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(raw), MaxSize)
	}

	detected := mimetype.Detect(raw)
	inferred := KindFor(detected.String())

	switch kind {
	case "":
		kind = inferred
	case protocol.KindFile:
	case protocol.KindImage, protocol.KindVideo:
		if kind != inferred {
			return "", "", fmt.Errorf("%w: %s is not %s", ErrKindMismatch, detected.String(), kind)
		}
	default:
		return "", "", fmt.Errorf("%w: %q cannot carry an attachment", ErrKindMismatch, kind)
	}

	mediaType, _, err := mime.ParseMediaType(detected.String())
	if err != nil {
		mediaType = "application/octet-stream"
	}
	return kind, "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeDataURL splits a base64 data URL into its media type and payload.
func DecodeDataURL(s string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	mediaType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrNotDataURL, err)
	}
	return mediaType, data, nil
}
