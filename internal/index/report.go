package index

import (
	"fmt"
	"strings"

	difflib "github.com/pmezard/go-difflib/difflib"

	"github.com/mmcdole/bundlesync/internal/domain"
)

// Report renders the download list for local→remote, one bundle per
// line prefixed with "+" for new bundles and "~" for changed ones.
func Report(local, remote []domain.BundleRecord) string {
	byName := ByName(local)
	var sb strings.Builder
	for _, r := range Diff(local, remote) {
		mark := "+"
		if _, ok := byName[r.Name]; ok {
			mark = "~"
		}
		fmt.Fprintf(&sb, "%s %s\tv%d\t%s\t%d\n", mark, r.Name, r.Version, r.ContentHash, r.SizeBytes)
	}
	return sb.String()
}

// UnifiedReport renders a unified diff between the serialized forms of
// two indexes. Line endings are normalized to LF.
func UnifiedReport(localName, remoteName string, local, remote []domain.BundleRecord) (string, error) {
	u := difflib.UnifiedDiff{
		A:        difflib.SplitLines(normalize(Serialize(local))),
		B:        difflib.SplitLines(normalize(Serialize(remote))),
		FromFile: localName,
		ToFile:   remoteName,
		Context:  2,
	}
	return difflib.GetUnifiedDiffString(u)
}

func normalize(data []byte) string {
	return strings.ReplaceAll(string(data), "\r\n", "\n")
}
