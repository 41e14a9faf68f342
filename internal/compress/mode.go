package compress

import "github.com/nitros-io/nitros/internal/nerrors"

// Mode names recognized by New.
const (
	ModeNone       = ""
	ModeImage      = "image"
	ModePointcloud = "pointcloud"
)

// New validates mode and returns it unchanged, or CompressUnsupportedMode if
// the mode has no registered implementation. Publisher construction calls
// this so a missing/unsupported mode fails fast rather than at first send.
func New(mode string) (string, error) {
	switch mode {
	case ModeNone, ModeImage, ModePointcloud:
		return mode, nil
	default:
		return "", nerrors.NewCompressUnsupportedMode("compress.New")
	}
}
