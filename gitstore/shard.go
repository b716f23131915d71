package gitstore

import (
	"strconv"

	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/addongit/api"
	"github.com/polydawn/addongit/fs"
)

/*
	ShardPath spreads artifact ids over nested directories so no single
	directory collects every repository.

	The layout is `<digit count>/<last two digits>/<id>`:

		1      -> 1/1/1
		12     -> 2/12/12
		123456 -> 6/56/123456

	Non-positive ids are rejected with ErrUsage.
*/
func ShardPath(id api.ArtifactID) (fs.RelPath, error) {
	if id <= 0 {
		return fs.RelPath{}, Errorf(api.ErrUsage, "artifact ids must be positive (got %d)", id)
	}
	digits := id.String()
	tail := digits
	if len(tail) > 2 {
		tail = tail[len(tail)-2:]
	}
	return fs.MustRelPath(strconv.Itoa(len(digits)) + "/" + tail + "/" + digits), nil
}
