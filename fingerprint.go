package redmine_notifier

import (
	"crypto/md5" //nolint:gosec // grouping key, not a security boundary
	"encoding/hex"
	"strings"

	"github.com/samber/lo"
)

// appFrameMarker identifies frames that belong to the application rather than
// to libraries or the runtime.
const appFrameMarker = "/app/"

const fingerprintLength = 8

// FirstAppFrame returns the first application frame, the first frame when no
// frame is an application frame, or "" without a backtrace.
func FirstAppFrame(frames []string) string {
	if len(frames) == 0 {
		return ""
	}
	if frame, ok := lo.Find(frames, func(f string) bool {
		return strings.Contains(f, appFrameMarker)
	}); ok {
		return frame
	}
	return frames[0]
}

// Checksum derives the 8 character fingerprint used to group occurrences of
// the same error.
func Checksum(exc ExceptionDescriptor) string {
	source := exc.ClassName + ":" + exc.Message + ":" + FirstAppFrame(exc.StackFrames)
	sum := md5.Sum([]byte(source)) //nolint:gosec
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}
