package shopapi

import (
	"crypto/md5" //nolint:gosec
	"encoding/hex"
)

// DataSignature is the MD5 hex digest of: token + "/" + path + "?" + canonical query.
// The "?" separator is omitted if the query is empty.
// The path is "{version}/{class}/{method}", the query must be encoded in the same order as it is sent.
func DataSignature(token, path, canonicalQuery string) string {
	input := token + "/" + path
	if canonicalQuery != "" {
		input += "?" + canonicalQuery
	}
	sum := md5.Sum([]byte(input)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
