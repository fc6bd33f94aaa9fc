package protocol

// Command is the typed representation of one parsed control message.
// The connection handler dispatches on the concrete type, so wire-format
// parsing stays isolated from business logic.
type Command interface {
	// Keyword returns the wire keyword that produced this command.
	Keyword() string

	// SessionID returns the session token carried by the command, or ""
	// for commands that do not require authentication.
	SessionID() string
}

// sessioned is embedded by every command that carries a session token as
// its second wire field.
type sessioned struct {
	Session string
}

func (s sessioned) SessionID() string { return s.Session }

// unsessioned is embedded by commands valid before authentication.
type unsessioned struct{}

func (unsessioned) SessionID() string { return "" }

// Register creates a new user account.
type Register struct {
	unsessioned
	Username string
	Password string
}

func (Register) Keyword() string { return KwRegister }

// Login authenticates a user and opens a session.
type Login struct {
	unsessioned
	Username string
	Password string
}

func (Login) Keyword() string { return KwLogin }

// Logout destroys the bound session.
type Logout struct {
	sessioned
}

func (Logout) Keyword() string { return KwLogout }

// Ping is a connection keepalive probe. Valid without a session.
type Ping struct {
	unsessioned
}

func (Ping) Keyword() string { return KwPing }

// Quit asks the server to close the connection, logging out first when a
// session is still bound.
type Quit struct {
	unsessioned
}

func (Quit) Keyword() string { return KwQuit }

// Upload announces an incoming file of Size bytes for the given tier.
// Recipient is set only for the shared tier.
type Upload struct {
	sessioned
	Tier      Tier
	Filename  string
	Size      int64
	Recipient string
}

func (u Upload) Keyword() string {
	switch u.Tier {
	case TierPublic:
		return KwUploadPublic
	case TierShared:
		return KwUploadShared
	default:
		return KwUploadPrivate
	}
}

// Download requests a file from the given tier. Identifier is a file id,
// a bare filename, or an owner/filename composite.
type Download struct {
	sessioned
	Tier       Tier
	Identifier string
}

func (d Download) Keyword() string {
	switch d.Tier {
	case TierPublic:
		return KwDownloadPublic
	case TierShared:
		return KwDownloadShared
	default:
		return KwDownloadPrivate
	}
}

// List requests the id/name pairs of the caller-visible files in a tier.
type List struct {
	sessioned
	Tier Tier
}

func (l List) Keyword() string {
	switch l.Tier {
	case TierPublic:
		return KwListPublic
	case TierShared:
		return KwListShared
	default:
		return KwListPrivate
	}
}

// MakePublic promotes a file to the public tier. Admin marks the
// admin-only variant that may target any owner's file.
type MakePublic struct {
	sessioned
	Identifier string
	Admin      bool
}

func (m MakePublic) Keyword() string {
	if m.Admin {
		return KwMakePublicAdmin
	}
	return KwMakePublicUser
}

// MakeShared moves a caller-owned file into the shared tier for Recipient.
type MakeShared struct {
	sessioned
	Identifier string
	Recipient  string
}

func (MakeShared) Keyword() string { return KwMakeSharedUser }

// Delete removes a file record and its backing bytes. Admin marks the
// admin-only variant restricted to public files.
type Delete struct {
	sessioned
	Identifier string
	Admin      bool
}

func (d Delete) Keyword() string {
	if d.Admin {
		return KwAdminDeleteFile
	}
	return KwDelete
}

// Unknown preserves an unrecognized keyword so the handler can echo it in
// the UNKNOWN_COMMAND response.
type Unknown struct {
	unsessioned
	Raw string
}

func (u Unknown) Keyword() string { return u.Raw }
