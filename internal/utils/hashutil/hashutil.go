package hashutil

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/cozy-creator/model-cache/internal/types"
	"lukechampine.com/blake3"
)

func Blake3Hash(data []byte) string {
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// ManifestDigest fingerprints a manifest independent of listing order, so
// two downloads of the same remote snapshot record the same digest.
func ManifestDigest(files []types.RemoteFileDescriptor) string {
	lines := make([]string, 0, len(files))
	for _, f := range files {
		lines = append(lines, fmt.Sprintf("%s\x00%d\x00%s", f.Name, f.Size, f.SHA256))
	}
	sort.Strings(lines)

	return Blake3Hash([]byte(strings.Join(lines, "\n")))
}
