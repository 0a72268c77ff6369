package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Fingerprint derives a stable hash from an operation name and its argument
// tuple. Map arguments are serialized with sorted keys so the same logical
// call produces the same fingerprint regardless of argument map ordering.
func Fingerprint(op string, args ...interface{}) string {
	h := sha256.New()
	h.Write([]byte(op))
	for _, arg := range args {
		h.Write([]byte{0})
		h.Write([]byte(normalize(arg)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalize(arg interface{}) string {
	switch v := arg.(type) {
	case map[string]string:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := ""
		for _, k := range keys {
			out += k + "=" + v[k] + ";"
		}
		return out
	default:
		// json.Marshal sorts map[string]X keys, which keeps fingerprints stable.
		data, err := json.Marshal(arg)
		if err != nil {
			return fmt.Sprintf("%v", arg)
		}
		return string(data)
	}
}
