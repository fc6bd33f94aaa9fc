package server

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferryfs/ferry/internal/logger"
	"github.com/ferryfs/ferry/pkg/auth"
	"github.com/ferryfs/ferry/pkg/client"
	"github.com/ferryfs/ferry/pkg/metadata/store"
	"github.com/ferryfs/ferry/pkg/protocol"
	"github.com/ferryfs/ferry/pkg/session"
	"github.com/ferryfs/ferry/pkg/storage"
)

// testEnv is one isolated server instance with its own store and storage
// root, torn down with the test.
type testEnv struct {
	srv    *Server
	auth   *auth.Handler
	layout *storage.Layout
	addr   string
}

func testTLSConfig(t *testing.T) *tls.Config {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "ferry-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		MinVersion:   tls.VersionTLS12,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "metadata.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	layout, err := storage.NewLayout(t.TempDir())
	require.NoError(t, err)

	authHandler := auth.NewHandler(st, session.NewStore(), auth.BcryptHasher{Cost: 4})

	srv := New(Config{
		BindAddress:     "127.0.0.1",
		Port:            0,
		MaxConnections:  8,
		IdleTimeout:     5 * time.Second,
		BufferSize:      1024,
		ShutdownTimeout: 2 * time.Second,
		TLS:             testTLSConfig(t),
	}, authHandler, st, layout, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	})

	return &testEnv{srv: srv, auth: authHandler, layout: layout, addr: srv.Addr()}
}

func (e *testEnv) dial(t *testing.T) *client.Client {
	t.Helper()
	c, err := client.Dial(client.Config{
		Address:    e.addr,
		TLS:        &tls.Config{InsecureSkipVerify: true},
		BufferSize: 1024,
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func (e *testEnv) login(t *testing.T, username, password string) *client.Client {
	t.Helper()
	c := e.dial(t)
	require.NoError(t, c.Register(username, password))
	_, err := c.Login(username, password)
	require.NoError(t, err)
	return c
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestPingWithoutLogin(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)

	assert.NoError(t, c.Ping())
}

func TestRegisterLoginLogout(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)

	require.NoError(t, c.Register("alice", "secret"))
	assert.ErrorIs(t, c.Register("alice", "other"), client.ErrRegisterFailed)

	_, err := c.Login("alice", "wrong")
	assert.ErrorIs(t, err, client.ErrLoginFailed)

	sess, err := c.Login("alice", "secret")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "alice", sess.Username)
	assert.Equal(t, "user", sess.Role)
	assert.NotEmpty(t, sess.UserID)

	assert.NoError(t, c.Logout())
	assert.Empty(t, c.Session().ID)
}

func TestSessionValidationOnWire(t *testing.T) {
	env := newTestEnv(t)
	codec := protocol.NewCodec("")

	conn, err := tls.Dial("tcp", env.addr, &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	defer conn.Close()

	// A session command with a bogus token is refused before dispatch.
	require.NoError(t, protocol.WriteMessage(conn, codec.Join(protocol.KwListPrivate, "bogus-token")))
	msg, err := protocol.ReadMessage(conn)
	require.NoError(t, err)
	assert.Equal(t, protocol.RespInvalidSession, msg)

	// A session command with no token at all asks for authentication.
	require.NoError(t, protocol.WriteMessage(conn, protocol.KwListPrivate))
	msg, err = protocol.ReadMessage(conn)
	require.NoError(t, err)
	assert.Equal(t, protocol.RespAuthRequired, msg)

	// Unknown keywords are echoed, not fatal.
	require.NoError(t, protocol.WriteMessage(conn, "FROBNICATE"))
	msg, err = protocol.ReadMessage(conn)
	require.NoError(t, err)
	assert.Equal(t, codec.Join(protocol.RespUnknownCommand, "FROBNICATE"), msg)
}

func TestUploadDownloadPrivate(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "alice", "secret")

	content := "the quick brown fox jumps over the lazy dog"
	local := writeTempFile(t, "notes.txt", content)

	require.NoError(t, c.Upload(protocol.TierPrivate, local, ""))

	entries, err := c.List(protocol.TierPrivate)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "notes.txt", entries[0].Name)
	assert.NotEmpty(t, entries[0].ID)

	// Download by bare filename.
	destDir := t.TempDir()
	saved, err := c.Download(protocol.TierPrivate, "notes.txt", destDir)
	require.NoError(t, err)
	data, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))

	// Download by file id.
	saved, err = c.Download(protocol.TierPrivate, entries[0].ID, t.TempDir())
	require.NoError(t, err)
	data, err = os.ReadFile(saved)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestUploadDownloadLargerThanBuffer(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "alice", "secret")

	// Several buffer-sized chunks plus a remainder.
	content := make([]byte, 10_000)
	for i := range content {
		content[i] = byte(i % 251)
	}
	local := filepath.Join(t.TempDir(), "blob.bin")
	require.NoError(t, os.WriteFile(local, content, 0644))

	require.NoError(t, c.Upload(protocol.TierPrivate, local, ""))

	saved, err := c.Download(protocol.TierPrivate, "blob.bin", t.TempDir())
	require.NoError(t, err)
	data, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestZeroByteUpload(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "alice", "secret")

	local := writeTempFile(t, "empty.txt", "")
	require.NoError(t, c.Upload(protocol.TierPrivate, local, ""))

	saved, err := c.Download(protocol.TierPrivate, "empty.txt", t.TempDir())
	require.NoError(t, err)
	info, err := os.Stat(saved)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestReuploadSupersedes(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "alice", "secret")

	require.NoError(t, c.Upload(protocol.TierPrivate, writeTempFile(t, "f.txt", "first version"), ""))
	require.NoError(t, c.Upload(protocol.TierPrivate, writeTempFile(t, "f.txt", "second"), ""))

	// Exactly one live record for the name remains.
	entries, err := c.List(protocol.TierPrivate)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	saved, err := c.Download(protocol.TierPrivate, "f.txt", t.TempDir())
	require.NoError(t, err)
	data, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestSharedFlow(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice", "secret")
	bob := env.login(t, "bob", "secret")
	carol := env.login(t, "carol", "secret")

	local := writeTempFile(t, "report.pdf", "quarterly numbers")
	require.NoError(t, alice.Upload(protocol.TierShared, local, "bob"))

	// Both sides of the share see the file in the shared listing.
	bobEntries, err := bob.List(protocol.TierShared)
	require.NoError(t, err)
	require.Len(t, bobEntries, 1)
	assert.Equal(t, "report.pdf", bobEntries[0].Name)

	aliceEntries, err := alice.List(protocol.TierShared)
	require.NoError(t, err)
	require.Len(t, aliceEntries, 1)

	saved, err := bob.Download(protocol.TierShared, "report.pdf", t.TempDir())
	require.NoError(t, err)
	data, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Equal(t, "quarterly numbers", string(data))

	// Third parties see neither the listing nor the file.
	carolEntries, err := carol.List(protocol.TierShared)
	require.NoError(t, err)
	assert.Empty(t, carolEntries)

	_, err = carol.Download(protocol.TierShared, "report.pdf", t.TempDir())
	assert.ErrorIs(t, err, client.ErrFileNotFound)

	_, err = carol.Download(protocol.TierShared, bobEntries[0].ID, t.TempDir())
	assert.ErrorIs(t, err, client.ErrPermissionDenied)
}

func TestPrivateFileDeniedToOthers(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice", "secret")
	bob := env.login(t, "bob", "secret")

	require.NoError(t, alice.Upload(protocol.TierPrivate, writeTempFile(t, "diary.md", "dear diary"), ""))

	entries, err := alice.List(protocol.TierPrivate)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// By id the file resolves but bob is neither owner nor recipient.
	_, err = bob.Download(protocol.TierPrivate, entries[0].ID, t.TempDir())
	assert.ErrorIs(t, err, client.ErrPermissionDenied)

	// By name the lookup is scoped to bob's own namespace.
	_, err = bob.Download(protocol.TierPrivate, "diary.md", t.TempDir())
	assert.ErrorIs(t, err, client.ErrFileNotFound)

	bobEntries, err := bob.List(protocol.TierPrivate)
	require.NoError(t, err)
	assert.Empty(t, bobEntries)
}

func TestUploadSharedUnknownRecipient(t *testing.T) {
	env := newTestEnv(t)
	c := env.login(t, "alice", "secret")

	local := writeTempFile(t, "f.txt", "x")
	err := c.Upload(protocol.TierShared, local, "nobody")
	assert.ErrorIs(t, err, client.ErrUploadFailed)
}

func TestMakePublicFlow(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice", "secret")
	bob := env.login(t, "bob", "secret")

	local := writeTempFile(t, "movie.mp4", "definitely a movie")
	require.NoError(t, alice.Upload(protocol.TierPrivate, local, ""))
	require.NoError(t, alice.MakePublic("movie.mp4"))

	// The bytes moved from the private namespace to the public one.
	privatePath, err := env.layout.FilePath(protocol.TierPrivate, "alice", "", "movie.mp4")
	require.NoError(t, err)
	_, err = os.Stat(privatePath)
	assert.True(t, os.IsNotExist(err))

	publicPath, err := env.layout.FilePath(protocol.TierPublic, "", "", "movie.mp4")
	require.NoError(t, err)
	_, err = os.Stat(publicPath)
	assert.NoError(t, err)

	// Any authenticated user can fetch it now.
	saved, err := bob.Download(protocol.TierPublic, "movie.mp4", t.TempDir())
	require.NoError(t, err)
	data, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Equal(t, "definitely a movie", string(data))

	// Promoting again is an idempotent success.
	assert.NoError(t, alice.MakePublic("movie.mp4"))
}

func TestMakePublicNotOwner(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice", "secret")
	bob := env.login(t, "bob", "secret")

	require.NoError(t, alice.Upload(protocol.TierPrivate, writeTempFile(t, "f.txt", "x"), ""))

	entries, err := alice.List(protocol.TierPrivate)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// By id the file resolves but belongs to alice.
	assert.ErrorIs(t, bob.MakePublic(entries[0].ID), client.ErrPermissionDenied)
	// By name it does not resolve in bob's scope at all.
	assert.ErrorIs(t, bob.MakePublic("f.txt"), client.ErrFileNotFound)
}

func TestMakeSharedFlow(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice", "secret")
	bob := env.login(t, "bob", "secret")

	require.NoError(t, alice.Upload(protocol.TierPrivate, writeTempFile(t, "doc.txt", "for bob"), ""))
	require.NoError(t, alice.MakeShared("doc.txt", "bob"))

	assert.ErrorIs(t, alice.MakeShared("doc.txt", "nobody"), client.ErrProtocol)

	saved, err := bob.Download(protocol.TierShared, "doc.txt", t.TempDir())
	require.NoError(t, err)
	data, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Equal(t, "for bob", string(data))
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice", "secret")
	bob := env.login(t, "bob", "secret")

	require.NoError(t, alice.Upload(protocol.TierPrivate, writeTempFile(t, "f.txt", "x"), ""))

	entries, err := alice.List(protocol.TierPrivate)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// Non-owners cannot delete, by id or by name.
	assert.ErrorIs(t, bob.Delete(entries[0].ID), client.ErrPermissionDenied)
	assert.ErrorIs(t, bob.Delete("f.txt"), client.ErrFileNotFound)

	require.NoError(t, alice.Delete("f.txt"))

	entries, err = alice.List(protocol.TierPrivate)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = alice.Download(protocol.TierPrivate, "f.txt", t.TempDir())
	assert.ErrorIs(t, err, client.ErrFileNotFound)

	assert.ErrorIs(t, alice.Delete("f.txt"), client.ErrFileNotFound)
}

func TestAdminOperations(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.auth.RegisterAdmin(context.Background(), "root", "toor-secret"))

	alice := env.login(t, "alice", "secret")
	require.NoError(t, alice.Upload(protocol.TierPrivate, writeTempFile(t, "leak.txt", "data"), ""))

	admin := env.dial(t)
	_, err := admin.Login("root", "toor-secret")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())

	// Admins may promote any owner's file via the composite identifier.
	require.NoError(t, admin.AdminMakePublic("alice/leak.txt"))

	entries, err := alice.List(protocol.TierPublic)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// Admin delete is restricted to public files.
	require.NoError(t, alice.Upload(protocol.TierPrivate, writeTempFile(t, "private.txt", "x"), ""))
	privEntries, err := alice.List(protocol.TierPrivate)
	require.NoError(t, err)
	require.Len(t, privEntries, 1)
	assert.ErrorIs(t, admin.AdminDelete(privEntries[0].ID), client.ErrPermissionDenied)

	require.NoError(t, admin.AdminDelete("leak.txt"))
	entries, err = alice.List(protocol.TierPublic)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAdminOperationsDeniedToUsers(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice", "secret")

	require.NoError(t, alice.Upload(protocol.TierPublic, writeTempFile(t, "f.txt", "x"), ""))

	assert.ErrorIs(t, alice.AdminDelete("f.txt"), client.ErrPermissionDenied)
	assert.ErrorIs(t, alice.AdminMakePublic("alice/f.txt"), client.ErrPermissionDenied)
}

func TestPublicNameCollisionAcrossOwners(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice", "secret")
	bob := env.login(t, "bob", "secret")

	require.NoError(t, alice.Upload(protocol.TierPublic, writeTempFile(t, "f.txt", "alice's"), ""))

	// Another owner cannot claim the same public name.
	err := bob.Upload(protocol.TierPublic, writeTempFile(t, "f.txt", "bob's"), "")
	assert.ErrorIs(t, err, client.ErrUploadFailed)

	// The original owner can still supersede their own file.
	require.NoError(t, alice.Upload(protocol.TierPublic, writeTempFile(t, "f.txt", "alice v2"), ""))

	saved, err := bob.Download(protocol.TierPublic, "f.txt", t.TempDir())
	require.NoError(t, err)
	data, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Equal(t, "alice v2", string(data))
}

func TestMakePublicNameCollisionAcrossOwners(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice", "secret")
	bob := env.login(t, "bob", "secret")

	require.NoError(t, alice.Upload(protocol.TierPublic, writeTempFile(t, "f.txt", "alice public data"), ""))
	require.NoError(t, bob.Upload(protocol.TierPrivate, writeTempFile(t, "f.txt", "bob private"), ""))

	// Promoting cannot claim another owner's public name.
	assert.ErrorIs(t, bob.MakePublic("f.txt"), client.ErrProtocol)

	// Alice's record and bytes survive, and the namespace holds one f.txt.
	entries, err := bob.List(protocol.TierPublic)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	saved, err := bob.Download(protocol.TierPublic, "f.txt", t.TempDir())
	require.NoError(t, err)
	data, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Equal(t, "alice public data", string(data))

	// Bob's private copy stayed where it was.
	saved, err = bob.Download(protocol.TierPrivate, "f.txt", t.TempDir())
	require.NoError(t, err)
	data, err = os.ReadFile(saved)
	require.NoError(t, err)
	assert.Equal(t, "bob private", string(data))

	// The guard is keyed on the file's owner, so an admin promotion of
	// bob's file is refused the same way.
	require.NoError(t, env.auth.RegisterAdmin(context.Background(), "root", "toor-secret"))
	admin := env.dial(t)
	_, err = admin.Login("root", "toor-secret")
	require.NoError(t, err)
	assert.ErrorIs(t, admin.AdminMakePublic("bob/f.txt"), client.ErrProtocol)
}

func TestMakeSharedNameCollisionAcrossOwners(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice", "secret")
	bob := env.login(t, "bob", "secret")
	carol := env.login(t, "carol", "secret")

	require.NoError(t, alice.Upload(protocol.TierShared, writeTempFile(t, "doc.txt", "from alice"), "carol"))
	require.NoError(t, bob.Upload(protocol.TierPrivate, writeTempFile(t, "doc.txt", "from bob"), ""))

	// Carol's shared doc.txt belongs to alice; bob cannot move onto it.
	assert.ErrorIs(t, bob.MakeShared("doc.txt", "carol"), client.ErrProtocol)

	saved, err := carol.Download(protocol.TierShared, "doc.txt", t.TempDir())
	require.NoError(t, err)
	data, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Equal(t, "from alice", string(data))

	// A recipient without that name is still reachable.
	assert.NoError(t, bob.MakeShared("doc.txt", "alice"))
}

func TestMakePublicSupersedesOwnName(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice", "secret")

	require.NoError(t, alice.Upload(protocol.TierPublic, writeTempFile(t, "f.txt", "v1"), ""))
	require.NoError(t, alice.Upload(protocol.TierPrivate, writeTempFile(t, "f.txt", "v2"), ""))

	entries, err := alice.List(protocol.TierPrivate)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// Promoting over one's own public name replaces it, same as a
	// re-upload would.
	require.NoError(t, alice.MakePublic(entries[0].ID))

	entries, err = alice.List(protocol.TierPublic)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	saved, err := alice.Download(protocol.TierPublic, "f.txt", t.TempDir())
	require.NoError(t, err)
	data, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestUploadIncomplete(t *testing.T) {
	env := newTestEnv(t)
	codec := protocol.NewCodec("")

	conn, err := tls.Dial("tcp", env.addr, &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	defer conn.Close()

	roundTrip := func(fields ...string) string {
		require.NoError(t, protocol.WriteMessage(conn, codec.Join(fields...)))
		msg, err := protocol.ReadMessage(conn)
		require.NoError(t, err)
		return msg
	}

	require.Equal(t, protocol.RespRegisterSuccess, roundTrip(protocol.KwRegister, "alice", "secret"))
	loginFields := codec.Split(roundTrip(protocol.KwLogin, "alice", "secret"))
	require.Equal(t, protocol.RespLoginSuccess, loginFields[0])
	sid := loginFields[1]

	// Announce 100 bytes, deliver 10, then half-close the stream.
	require.Equal(t, protocol.RespReadyForData,
		roundTrip(protocol.KwUploadPrivate, sid, "short.txt", "100"))
	_, err = conn.Write([]byte("only ten b"))
	require.NoError(t, err)
	require.NoError(t, conn.CloseWrite())

	msg, err := protocol.ReadMessage(conn)
	require.NoError(t, err)
	assert.Equal(t, protocol.RespUploadIncomplete, msg)

	// No record and no partial bytes survive the failed transfer.
	c := env.dial(t)
	_, err = c.Login("alice", "secret")
	require.NoError(t, err)
	entries, err := c.List(protocol.TierPrivate)
	require.NoError(t, err)
	assert.Empty(t, entries)

	path, err := env.layout.FilePath(protocol.TierPrivate, "alice", "", "short.txt")
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLoginSupersedesSessionOnWire(t *testing.T) {
	env := newTestEnv(t)

	first := env.login(t, "alice", "secret")
	firstSession := first.Session()

	second := env.dial(t)
	_, err := second.Login("alice", "secret")
	require.NoError(t, err)

	// The first client's token no longer validates.
	codec := protocol.NewCodec("")
	conn, err := tls.Dial("tcp", env.addr, &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, protocol.WriteMessage(conn, codec.Join(protocol.KwListPrivate, firstSession.ID)))
	msg, err := protocol.ReadMessage(conn)
	require.NoError(t, err)
	assert.Equal(t, protocol.RespInvalidSession, msg)
}

// syncBuffer is a goroutine-safe log sink for asserting on log output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAuthEventsLoggedOnce(t *testing.T) {
	var logs syncBuffer
	logger.InitWithWriter(&logs, "INFO", "json")
	t.Cleanup(func() { logger.InitWithWriter(os.Stderr, "INFO", "text") })

	env := newTestEnv(t)
	c := env.dial(t)

	require.NoError(t, c.Register("alice", "secret"))
	_, err := c.Login("alice", "secret")
	require.NoError(t, err)

	out := logs.String()
	assert.Equal(t, 1, strings.Count(out, "User registered"))
	assert.Equal(t, 1, strings.Count(out, "User logged in"))
}

func TestQuitClearsSessionDuringShutdown(t *testing.T) {
	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "metadata.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	authHandler := auth.NewHandler(st, session.NewStore(), auth.BcryptHasher{Cost: 4})
	require.NoError(t, authHandler.Register(context.Background(), "alice", "secret"))
	result, err := authHandler.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)

	layout, err := storage.NewLayout(t.TempDir())
	require.NoError(t, err)

	srv := New(Config{
		BufferSize:      1024,
		ShutdownTimeout: time.Second,
		TLS:             testTLSConfig(t),
	}, authHandler, st, layout, nil)

	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()
	defer clientSide.Close()

	conn := newConnection(srv, serverSide)
	conn.session = result.SessionID

	// Shutdown cancels the context every in-flight command runs on. A
	// QUIT read in that window must still clear the persisted token.
	srv.initiateShutdown()

	outcome, err := conn.dispatch(srv.shutdownCtx, protocol.Quit{})
	require.NoError(t, err)
	assert.Equal(t, "quit", outcome)

	_, ok := authHandler.Sessions().Validate(result.SessionID)
	assert.False(t, ok)

	user, err := st.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Nil(t, user.SessionID)
}

func TestGracefulShutdown(t *testing.T) {
	env := newTestEnv(t)

	c := env.dial(t)
	require.NoError(t, c.Ping())
	require.NoError(t, c.Close())

	require.NoError(t, env.srv.Stop())

	_, err := tls.Dial("tcp", env.addr, &tls.Config{InsecureSkipVerify: true})
	assert.Error(t, err)
}
