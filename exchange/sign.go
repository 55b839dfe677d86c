package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
)

// RecvWindowDefault is the recvWindow appended to signed requests outside
// the "order" endpoint group, which signs with signal.MaxRecvWindowMs
// instead (see recvWindowFor).
const RecvWindowDefault = 5000

// sign computes the spec §4.1 signature: params are concatenated in
// insertion order (url.Values does not preserve insertion order, so the
// caller passes an ordered slice of key/value pairs), HMAC-SHA256'd with
// secret, hex-encoded.
func sign(orderedParams [][2]string, secret string) string {
	qs := encodeOrdered(orderedParams)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(qs))
	return hex.EncodeToString(mac.Sum(nil))
}

func encodeOrdered(params [][2]string) string {
	var buf []byte
	for i, kv := range params {
		if i > 0 {
			buf = append(buf, '&')
		}
		buf = append(buf, url.QueryEscape(kv[0])...)
		buf = append(buf, '=')
		buf = append(buf, url.QueryEscape(kv[1])...)
	}
	return string(buf)
}

func itoa64(v int64) string {
	return strconv.FormatInt(v, 10)
}
