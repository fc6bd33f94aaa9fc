package client

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ferryfs/ferry/pkg/protocol"
)

func TestParseEntries(t *testing.T) {
	entries := parseEntries("id1:a.txt|||id2:b.txt")
	assert.Equal(t, []Entry{{ID: "id1", Name: "a.txt"}, {ID: "id2", Name: "b.txt"}}, entries)

	entries = parseEntries("id1:one.txt")
	assert.Equal(t, []Entry{{ID: "id1", Name: "one.txt"}}, entries)

	// Names may themselves contain a colon; only the first splits.
	entries = parseEntries("id1:a:b.txt")
	assert.Equal(t, []Entry{{ID: "id1", Name: "a:b.txt"}}, entries)

	// Malformed entries are skipped rather than failing the listing.
	assert.Empty(t, parseEntries("no-colon-here"))
}

func TestTierKeywords(t *testing.T) {
	assert.Equal(t, protocol.KwListPrivate, listKeyword(protocol.TierPrivate))
	assert.Equal(t, protocol.KwListShared, listKeyword(protocol.TierShared))
	assert.Equal(t, protocol.KwListPublic, listKeyword(protocol.TierPublic))

	assert.Equal(t, protocol.KwUploadPrivate, uploadKeyword(protocol.TierPrivate))
	assert.Equal(t, protocol.KwUploadShared, uploadKeyword(protocol.TierShared))
	assert.Equal(t, protocol.KwUploadPublic, uploadKeyword(protocol.TierPublic))

	assert.Equal(t, protocol.KwDownloadPrivate, downloadKeyword(protocol.TierPrivate))
	assert.Equal(t, protocol.KwDownloadShared, downloadKeyword(protocol.TierShared))
	assert.Equal(t, protocol.KwDownloadPublic, downloadKeyword(protocol.TierPublic))
}

func TestRequiresLoginLocally(t *testing.T) {
	c := &Client{codec: protocol.NewCodec("")}

	assert.ErrorIs(t, c.Logout(), ErrNotAuthenticated)
	_, err := c.List(protocol.TierPrivate)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.ErrorIs(t, c.Delete("f.txt"), ErrNotAuthenticated)
	_, err = c.Download(protocol.TierPrivate, "f.txt", t.TempDir())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}
