package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"time"
)

type signer struct {
	apiKey string
	secret []byte
	now    func() time.Time
}

func newSigner(apiKey, apiSecret string) *signer {
	return &signer{apiKey: apiKey, secret: []byte(apiSecret), now: time.Now}
}

// sign appends timestamp and recvWindow, then an HMAC-SHA256 signature over
// the encoded query string, as the exchange requires for private endpoints.
func (s *signer) sign(params url.Values) (url.Values, error) {
	if s.apiKey == "" || len(s.secret) == 0 {
		return nil, errors.New("api credentials are required for signed endpoints")
	}
	signed := url.Values{}
	for key, vals := range params {
		for _, val := range vals {
			signed.Add(key, val)
		}
	}
	signed.Set("timestamp", strconv.FormatInt(s.now().UnixMilli(), 10))
	signed.Set("recvWindow", recvWindowMS)
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(signed.Encode()))
	signed.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	return signed, nil
}
