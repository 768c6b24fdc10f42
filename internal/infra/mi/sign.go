package mi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net/url"
	"time"
)

func genNonce(now time.Time) (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf[:8]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	binary.BigEndian.PutUint32(buf[8:], uint32(now.Unix()/60))
	return base64.StdEncoding.EncodeToString(buf), nil
}

func signedNonce(ssecurity, nonce string) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(ssecurity)
	if err != nil {
		return "", fmt.Errorf("decoding ssecurity: %w", err)
	}
	n, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		return "", fmt.Errorf("decoding nonce: %w", err)
	}
	sum := sha256.Sum256(append(secret, n...))
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

func calcSign(uri, snonce, nonce, data string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(snonce)
	if err != nil {
		return "", fmt.Errorf("decoding signed nonce: %w", err)
	}
	h := hmac.New(sha256.New, key)
	h.Write([]byte(uri + "&" + snonce + "&" + nonce + "&data=" + data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// signForm builds the signed form body of an IoT API call.
func signForm(uri, data, ssecurity string, now time.Time) (url.Values, error) {
	nonce, err := genNonce(now)
	if err != nil {
		return nil, err
	}
	snonce, err := signedNonce(ssecurity, nonce)
	if err != nil {
		return nil, err
	}
	sign, err := calcSign(uri, snonce, nonce, data)
	if err != nil {
		return nil, err
	}
	return url.Values{
		"_nonce":    {nonce},
		"data":      {data},
		"signature": {sign},
	}, nil
}
