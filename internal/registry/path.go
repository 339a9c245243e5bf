package registry

import (
	"strconv"
	"strings"

	"github.com/nordic-iot/lwm2m-carrier/internal/lwm2merr"
)

// Path is a parsed /oid/iid/rid request path. Depth indicates how many
// segments were present (0 for "/", up to 3).
type Path struct {
	Depth      int
	ObjectID   uint16
	InstanceID uint16
	ResourceID uint16
	// AliasSegment holds the raw first segment when it did not parse as
	// a numeric object id, so the dispatcher can attempt alias matching.
	AliasSegment string
}

// ParsePath splits a Uri-Path option list into a Path. Non-numeric first
// segments are retained in AliasSegment for endpoint-alias resolution.
func ParsePath(segments []string) (Path, error) {
	segments = trimEmpty(segments)
	if len(segments) == 0 {
		return Path{Depth: 0}, nil
	}
	if len(segments) > 3 {
		return Path{}, lwm2merr.ErrInvalidEncoding
	}

	p := Path{Depth: len(segments)}

	oid, err := strconv.ParseUint(segments[0], 10, 16)
	if err != nil {
		p.AliasSegment = segments[0]
	} else {
		p.ObjectID = uint16(oid)
	}

	if len(segments) >= 2 {
		iid, err := strconv.ParseUint(segments[1], 10, 16)
		if err != nil {
			return Path{}, lwm2merr.ErrInvalidEncoding
		}
		p.InstanceID = uint16(iid)
	}
	if len(segments) == 3 {
		rid, err := strconv.ParseUint(segments[2], 10, 16)
		if err != nil {
			return Path{}, lwm2merr.ErrInvalidEncoding
		}
		p.ResourceID = uint16(rid)
	}
	return p, nil
}

func trimEmpty(segs []string) []string {
	out := segs[:0:0]
	for _, s := range segs {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (p Path) String() string {
	switch p.Depth {
	case 0:
		return "/"
	case 1:
		return "/" + strconv.Itoa(int(p.ObjectID))
	case 2:
		return "/" + strconv.Itoa(int(p.ObjectID)) + "/" + strconv.Itoa(int(p.InstanceID))
	default:
		return "/" + strconv.Itoa(int(p.ObjectID)) + "/" + strconv.Itoa(int(p.InstanceID)) + "/" + strconv.Itoa(int(p.ResourceID))
	}
}

// SplitURIPath splits a raw "/a/b/c" string into segments, for callers
// that have a joined path rather than separate Uri-Path option values.
func SplitURIPath(s string) []string {
	return trimEmpty(strings.Split(s, "/"))
}
