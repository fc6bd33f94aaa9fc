// Package protocol defines the ferry wire protocol: the closed sets of
// command and response keywords, the separator-delimited text codec, and
// the typed command representation produced by the parser.
//
// Control messages are single separator-delimited UTF-8 strings with no
// inherent framing; one socket read yields one message. File payloads are
// raw unframed byte streams whose length is agreed in the preceding
// control exchange.
package protocol

// DefaultSeparator is the field separator used when none is configured.
// It is a multi-character token so it cannot collide with '/' or ':',
// which appear inside owner/filename composite identifiers.
const DefaultSeparator = "<SEPARATOR>"

// ListJoiner separates entries in LIST_* response payloads.
const ListJoiner = "|||"

// MaxMessageSize bounds a single control message read. Larger reads are
// rejected to prevent memory exhaustion from a misbehaving peer.
const MaxMessageSize = 8192

// Command keywords.
const (
	KwRegister = "REGISTER"
	KwLogin    = "LOGIN"
	KwLogout   = "LOGOUT"
	KwPing     = "PING"
	KwQuit     = "QUIT"

	KwUploadPrivate = "UPLOAD_PRIVATE"
	KwUploadPublic  = "UPLOAD_PUBLIC"
	KwUploadShared  = "UPLOAD_SHARED"

	KwDownloadPrivate = "DOWNLOAD_PRIVATE"
	KwDownloadPublic  = "DOWNLOAD_PUBLIC"
	KwDownloadShared  = "DOWNLOAD_SHARED"

	KwListPrivate = "LIST_PRIVATE"
	KwListPublic  = "LIST_PUBLIC"
	KwListShared  = "LIST_SHARED"

	KwMakePublicUser  = "MAKE_PUBLIC_USER"
	KwMakeSharedUser  = "MAKE_SHARED_USER"
	KwMakePublicAdmin = "MAKE_PUBLIC_ADMIN"

	KwDelete          = "DELETE"
	KwAdminDeleteFile = "ADMIN_DELETE_FILE"
)

// Response keywords. The first field of every response is one of these,
// optionally followed by separator-delimited detail fields.
const (
	RespRegisterSuccess = "REGISTER_SUCCESS"
	RespRegisterFailed  = "REGISTER_FAILED"
	RespLoginSuccess    = "LOGIN_SUCCESS"
	RespLoginFailed     = "LOGIN_FAILED"
	RespLogoutSuccess   = "LOGOUT_SUCCESS"
	RespAuthRequired    = "AUTH_REQUIRED"
	RespInvalidSession  = "INVALID_SESSION"

	RespReadyForData     = "READY_FOR_DATA"
	RespUploadSuccess    = "UPLOAD_SUCCESS"
	RespUploadFailed     = "UPLOAD_FAILED"
	RespUploadIncomplete = "UPLOAD_INCOMPLETE"

	RespDownloadReady = "DOWNLOAD_READY"
	RespFileNotFound  = "FILE_NOT_FOUND"

	RespListSuccess = "LIST_SUCCESS"
	RespListEmpty   = "LIST_EMPTY"

	RespMakePublicSuccess  = "MAKE_PUBLIC_SUCCESS"
	RespMakeSharedSuccess  = "MAKE_SHARED_SUCCESS"
	RespAdminPublicSuccess = "ADMIN_PUBLIC_SUCCESS"
	RespDeleteSuccess      = "DELETE_SUCCESS"

	RespPermissionDenied = "PERMISSION_DENIED"
	RespPong             = "PONG"
	RespError            = "ERROR"
	RespUnknownCommand   = "UNKNOWN_COMMAND"
)

// Client acknowledgements used during the download handshake.
const (
	AckReadyForData     = "READY_FOR_DATA"
	AckTransferComplete = "TRANSFER_COMPLETE"
)

// Tier is the visibility class of a stored file. Each tier has its own
// directory namespace on disk.
type Tier string

const (
	TierPrivate Tier = "private"
	TierShared  Tier = "shared"
	TierPublic  Tier = "public"
)

// IsValid reports whether t is one of the three known tiers.
func (t Tier) IsValid() bool {
	return t == TierPrivate || t == TierShared || t == TierPublic
}
