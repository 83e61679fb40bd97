package safebrowsing

import "github.com/pkg/errors"

// Sentinel errors, in the style of checkurl.go's own
// ErrOutOfDateHashes — callers may compare against these with
// errors.Is after pkg/errors wrapping.
var (
	// ErrOutOfDateHashes is returned by an exact-match lookup when no
	// list has completed a successful update in the last 45 minutes.
	ErrOutOfDateHashes = errors.New("safebrowsing3: hash lists haven't been updated recently enough to trust an exact match")

	// ErrFatalConfig is wrapped around any Config.Validate failure.
	ErrFatalConfig = errors.New("safebrowsing3: invalid configuration")

	// ErrUnsupportedChunkType is returned by the chunk codec on an
	// unrecognized chunkType byte.
	ErrUnsupportedChunkType = errors.New("safebrowsing3: unrecognized chunk type")

	// ErrUpdateInFlight names the condition of a list that already has an
	// update in progress. Engine.Update does not return it: such a list is
	// skipped and its attempt reports no error.
	ErrUpdateInFlight = errors.New("safebrowsing3: update already in flight for list")

	// ErrOffline is returned by Client.Update, Client.ForceUpdate and
	// Client.IsListed when Config.Offline is set. The Resolver does not
	// return it: offline, it skips the remote step and returns only what
	// it already holds.
	ErrOffline = errors.New("safebrowsing3: client is configured for offline mode")
)
