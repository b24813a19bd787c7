package vapix

import (
	"crypto/md5" //nolint:gosec // RFC 7616 digest auth still defaults to MD5 on cameras
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"

	"github.com/muurk/camstage/internal/device"
)

// challenge is a parsed WWW-Authenticate header.
type challenge struct {
	scheme string
	params map[string]string
}

// parseChallenge parses `Digest realm="x", nonce="y", qop="auth"`.
func parseChallenge(header string) (challenge, error) {
	header = strings.TrimSpace(header)
	scheme, rest, _ := strings.Cut(header, " ")
	if scheme == "" {
		return challenge{}, errors.New("empty challenge")
	}

	ch := challenge{scheme: strings.ToLower(scheme), params: make(map[string]string)}
	for rest = strings.TrimSpace(rest); rest != ""; rest = strings.TrimSpace(rest) {
		key, after, ok := strings.Cut(rest, "=")
		if !ok {
			break
		}
		key = strings.ToLower(strings.TrimSpace(key))
		after = strings.TrimSpace(after)

		var value string
		if strings.HasPrefix(after, `"`) {
			end := strings.Index(after[1:], `"`)
			if end < 0 {
				return challenge{}, fmt.Errorf("unterminated quoted value for %s", key)
			}
			value = after[1 : end+1]
			after = after[end+2:]
		} else {
			value, after, _ = strings.Cut(after, ",")
			value = strings.TrimSpace(value)
			after = "," + after
		}
		ch.params[key] = value

		after = strings.TrimSpace(after)
		after = strings.TrimPrefix(after, ",")
		rest = after
	}
	return ch, nil
}

// authorization answers the strongest supported challenge.
func authorization(headers []string, method, uri string, creds device.Credentials) (string, error) {
	var basic bool
	var best *challenge
	for _, h := range headers {
		ch, err := parseChallenge(h)
		if err != nil {
			continue
		}
		switch ch.scheme {
		case "digest":
			alg := strings.ToUpper(ch.params["algorithm"])
			switch alg {
			case "", "MD5", "MD5-SESS", "SHA-256", "SHA-256-SESS":
			default:
				continue
			}
			if best == nil || strings.HasPrefix(alg, "SHA-256") {
				c := ch
				best = &c
			}
		case "basic":
			basic = true
		}
	}

	if best != nil {
		cnonce, err := newCNonce()
		if err != nil {
			return "", err
		}
		return best.digest(method, uri, creds, cnonce, 1), nil
	}
	if basic {
		token := base64.StdEncoding.EncodeToString([]byte(creds.Username + ":" + creds.Password))
		return "Basic " + token, nil
	}
	return "", fmt.Errorf("no supported challenge in %q", headers)
}

func (ch challenge) digest(method, uri string, creds device.Credentials, cnonce string, nc int) string {
	alg := ch.params["algorithm"]
	upper := strings.ToUpper(alg)

	var newHash func() hash.Hash = md5.New
	if strings.HasPrefix(upper, "SHA-256") {
		newHash = sha256.New
	}
	h := func(s string) string {
		sum := newHash()
		sum.Write([]byte(s))
		return hex.EncodeToString(sum.Sum(nil))
	}

	realm := ch.params["realm"]
	nonce := ch.params["nonce"]
	ncValue := fmt.Sprintf("%08x", nc)

	ha1 := h(creds.Username + ":" + realm + ":" + creds.Password)
	if strings.HasSuffix(upper, "-SESS") {
		ha1 = h(ha1 + ":" + nonce + ":" + cnonce)
	}
	ha2 := h(method + ":" + uri)

	qop := ""
	for _, q := range strings.Split(ch.params["qop"], ",") {
		if strings.TrimSpace(q) == "auth" {
			qop = "auth"
		}
	}

	var resp string
	if qop != "" {
		resp = h(strings.Join([]string{ha1, nonce, ncValue, cnonce, qop, ha2}, ":"))
	} else {
		resp = h(ha1 + ":" + nonce + ":" + ha2)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		creds.Username, realm, nonce, uri, resp)
	if alg != "" {
		fmt.Fprintf(&b, ", algorithm=%s", alg)
	}
	if qop != "" {
		fmt.Fprintf(&b, `, qop=%s, nc=%s, cnonce="%s"`, qop, ncValue, cnonce)
	}
	if opaque, ok := ch.params["opaque"]; ok {
		fmt.Fprintf(&b, `, opaque="%s"`, opaque)
	}
	return b.String()
}

func newCNonce() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate cnonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}
