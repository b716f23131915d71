package api

/*
	This file is all serializable types used by addongit
	to name repositories, release channels, identities, and commits.
*/

import (
	"encoding/hex"
	"strconv"

	"github.com/warpfork/go-errcat"
)

/*
	ArtifactID is the numeric identity of a managed package (an addon).
	Each artifact owns one repository per PackageKind.
*/
type ArtifactID int64

func ParseArtifactID(x string) (ArtifactID, error) {
	n, err := strconv.ParseInt(x, 10, 64)
	if err != nil || n <= 0 {
		return 0, errcat.Errorf(ErrUsage, "artifact ids must be positive integers (got %q)", x)
	}
	return ArtifactID(n), nil
}

func (x ArtifactID) String() string {
	return strconv.FormatInt(int64(x), 10)
}

/*
	PackageKind selects which of an artifact's repositories is meant:
	the packaged artifact as shipped, or the source bundle uploaded alongside it.
*/
type PackageKind string

const (
	PackageKind_Addon  PackageKind = "addon"
	PackageKind_Source PackageKind = "source"
)

func ParsePackageKind(x string) (PackageKind, error) {
	switch PackageKind(x) {
	case PackageKind_Addon, PackageKind_Source:
		return PackageKind(x), nil
	default:
		return "", errcat.Errorf(ErrUsage, "unknown package kind %q (must be %q or %q)", x, PackageKind_Addon, PackageKind_Source)
	}
}

/*
	Channel is a release track.  Every channel maps to exactly one branch.
*/
type Channel string

const (
	Channel_Listed   Channel = "listed"
	Channel_Unlisted Channel = "unlisted"
)

func ParseChannel(x string) (Channel, error) {
	switch Channel(x) {
	case Channel_Listed, Channel_Unlisted:
		return Channel(x), nil
	default:
		return "", errcat.Errorf(ErrUsage, "unknown channel %q (must be %q or %q)", x, Channel_Listed, Channel_Unlisted)
	}
}

// BranchName returns the short name of the branch that records this channel.
func (c Channel) BranchName() string {
	return string(c)
}

/*
	Identity is a name+email pair, as recorded in commit author and committer fields.
*/
type Identity struct {
	Name  string
	Email string
}

func (x Identity) String() string {
	return x.Name + " <" + x.Email + ">"
}

/*
	CommitID is the content hash of a commit, as 40 lowercase hex characters.
*/
type CommitID string

func ParseCommitID(x string) (CommitID, error) {
	if len(x) != 40 {
		return "", errcat.Errorf(ErrUsage, "commit ids must be 40 hex characters (got %d)", len(x))
	}
	if _, err := hex.DecodeString(x); err != nil {
		return "", errcat.Errorf(ErrUsage, "commit ids must be hex: %s", err)
	}
	return CommitID(x), nil
}

/*
	VersionInfo describes one uploaded revision of an addon, as handed over
	by the upstream service.  It carries just enough to pick a repository
	and branch, to find the archives, and to phrase the commit message.
*/
type VersionInfo struct {
	Addon     ArtifactID
	AddonName string
	Version   string // the version string, e.g. "1.0.2"
	VersionID int64
	Channel   Channel
	File      string // path to the packaged archive
	Source    string // path to the source bundle; may be blank
}
