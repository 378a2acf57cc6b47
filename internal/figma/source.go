package figma

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Placeholders used when a source URL does not name a file or node.
const (
	UnknownFileKey = "UNKNOWN_FILEKEY"
	RootNodeID     = "0:0"
)

// Source is a parsed design reference.
type Source struct {
	URL     string
	FileKey string
	NodeID  string
	// IsFigma is set when the URL points at figma.com and therefore needs
	// the owner's access token to fetch.
	IsFigma bool
}

// ParseSource extracts the file key and node id from a design URL. The file
// key follows /file/, /design/ or /proto/; node-id uses '-' where the API
// uses ':'.
func ParseSource(raw string) Source {
	src := Source{URL: strings.TrimSpace(raw), FileKey: UnknownFileKey, NodeID: RootNodeID}

	u, err := url.Parse(src.URL)
	if err != nil {
		return src
	}
	src.IsFigma = IsFigmaHost(u.Hostname())

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		switch parts[i] {
		case "file", "design", "proto":
			if parts[i+1] != "" {
				src.FileKey = parts[i+1]
			}
		}
		if src.FileKey != UnknownFileKey {
			break
		}
	}

	if node := u.Query().Get("node-id"); node != "" {
		src.NodeID = strings.ReplaceAll(node, "-", ":")
	}
	return src
}

// IsFigmaHost reports whether host is figma.com or one of its subdomains.
func IsFigmaHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	return host == "figma.com" || strings.HasSuffix(host, ".figma.com")
}

// IsFigmaURL reports whether raw points at figma.com.
func IsFigmaURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return IsFigmaHost(u.Hostname())
}

// SnapshotHash content-addresses a design input.
func SnapshotHash(fileKey, nodeID, lastModified, sourceURL string) string {
	sum := sha256.Sum256([]byte(fileKey + "|" + nodeID + "|" + lastModified + "|" + sourceURL))
	return "sha256:" + hex.EncodeToString(sum[:])
}
