package protocol

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrMalformed indicates a control message with a wrong field count or an
// unparseable field. The connection stays open; the handler answers with
// an ERROR response.
var ErrMalformed = errors.New("malformed command")

// ErrMissingSession indicates an authenticated command that arrived
// without a session token field.
var ErrMissingSession = errors.New("missing session token")

// Codec encodes and decodes control messages using a configured separator.
type Codec struct {
	sep string
}

// NewCodec returns a Codec for the given separator token. An empty
// separator selects DefaultSeparator.
func NewCodec(separator string) Codec {
	if separator == "" {
		separator = DefaultSeparator
	}
	return Codec{sep: separator}
}

// Separator returns the configured separator token.
func (c Codec) Separator() string { return c.sep }

// Join assembles a control message from its fields.
func (c Codec) Join(fields ...string) string {
	return strings.Join(fields, c.sep)
}

// Split breaks a control message into its fields.
func (c Codec) Split(message string) []string {
	return strings.Split(message, c.sep)
}

// Parse decodes one control message into a typed Command.
//
// Session-carrying commands are parsed even when the token later fails
// validation; the handler decides how to answer. A session-carrying
// command with no token field at all yields ErrMissingSession.
func (c Codec) Parse(message string) (Command, error) {
	parts := c.Split(message)
	keyword := parts[0]

	switch keyword {
	case KwRegister, KwLogin:
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: %s expects username and password", ErrMalformed, keyword)
		}
		if keyword == KwRegister {
			return Register{Username: parts[1], Password: parts[2]}, nil
		}
		return Login{Username: parts[1], Password: parts[2]}, nil

	case KwPing:
		return Ping{}, nil

	case KwQuit:
		return Quit{}, nil

	case KwLogout:
		session, rest, err := c.sessionFields(parts)
		if err != nil {
			return nil, err
		}
		if len(rest) != 0 {
			return nil, fmt.Errorf("%w: %s takes no arguments", ErrMalformed, keyword)
		}
		return Logout{sessioned{session}}, nil

	case KwUploadPrivate, KwUploadPublic, KwUploadShared:
		return c.parseUpload(keyword, parts)

	case KwDownloadPrivate, KwDownloadPublic, KwDownloadShared:
		session, rest, err := c.sessionFields(parts)
		if err != nil {
			return nil, err
		}
		if len(rest) != 1 {
			return nil, fmt.Errorf("%w: %s expects a file identifier", ErrMalformed, keyword)
		}
		return Download{sessioned{session}, tierOf(keyword), rest[0]}, nil

	case KwListPrivate, KwListPublic, KwListShared:
		session, rest, err := c.sessionFields(parts)
		if err != nil {
			return nil, err
		}
		if len(rest) != 0 {
			return nil, fmt.Errorf("%w: %s takes no arguments", ErrMalformed, keyword)
		}
		return List{sessioned{session}, tierOf(keyword)}, nil

	case KwMakePublicUser, KwMakePublicAdmin:
		session, rest, err := c.sessionFields(parts)
		if err != nil {
			return nil, err
		}
		if len(rest) != 1 {
			return nil, fmt.Errorf("%w: %s expects a file identifier", ErrMalformed, keyword)
		}
		return MakePublic{sessioned{session}, rest[0], keyword == KwMakePublicAdmin}, nil

	case KwMakeSharedUser:
		session, rest, err := c.sessionFields(parts)
		if err != nil {
			return nil, err
		}
		if len(rest) != 2 {
			return nil, fmt.Errorf("%w: %s expects a file identifier and a recipient", ErrMalformed, keyword)
		}
		return MakeShared{sessioned{session}, rest[0], rest[1]}, nil

	case KwDelete, KwAdminDeleteFile:
		session, rest, err := c.sessionFields(parts)
		if err != nil {
			return nil, err
		}
		if len(rest) != 1 {
			return nil, fmt.Errorf("%w: %s expects a file identifier", ErrMalformed, keyword)
		}
		return Delete{sessioned{session}, rest[0], keyword == KwAdminDeleteFile}, nil

	default:
		return Unknown{Raw: keyword}, nil
	}
}

func (c Codec) parseUpload(keyword string, parts []string) (Command, error) {
	session, rest, err := c.sessionFields(parts)
	if err != nil {
		return nil, err
	}

	tier := tierOf(keyword)
	want := 2
	if tier == TierShared {
		want = 3 // filename, size, recipient
	}
	if len(rest) != want {
		return nil, fmt.Errorf("%w: %s expects filename and size", ErrMalformed, keyword)
	}

	size, err := strconv.ParseInt(rest[1], 10, 64)
	if err != nil || size < 0 {
		return nil, fmt.Errorf("%w: invalid file size %q", ErrMalformed, rest[1])
	}

	upload := Upload{sessioned: sessioned{session}, Tier: tier, Filename: rest[0], Size: size}
	if tier == TierShared {
		upload.Recipient = rest[2]
	}
	return upload, nil
}

// sessionFields extracts the session token (second field) and the
// remaining argument fields of an authenticated command.
func (c Codec) sessionFields(parts []string) (string, []string, error) {
	if len(parts) < 2 || parts[1] == "" {
		return "", nil, fmt.Errorf("%w: %s", ErrMissingSession, parts[0])
	}
	return parts[1], parts[2:], nil
}

func tierOf(keyword string) Tier {
	switch {
	case strings.HasSuffix(keyword, "_PUBLIC"):
		return TierPublic
	case strings.HasSuffix(keyword, "_SHARED"):
		return TierShared
	default:
		return TierPrivate
	}
}

// ReadMessage reads one control message from r. The wire carries no
// message framing, so a single read yields a complete message by
// construction: both peers alternate strictly between one send and one
// receive, and control messages never exceed MaxMessageSize.
//
// An empty read (n == 0 with io.EOF) means the peer closed the
// connection and is reported as io.EOF.
func ReadMessage(r io.Reader) (string, error) {
	buf := make([]byte, MaxMessageSize)
	n, err := r.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		return "", err
	}
	return string(buf[:n]), nil
}

// WriteMessage writes one control message to w.
func WriteMessage(w io.Writer, message string) error {
	if len(message) > MaxMessageSize {
		return fmt.Errorf("control message exceeds %d bytes", MaxMessageSize)
	}
	_, err := io.WriteString(w, message)
	return err
}
