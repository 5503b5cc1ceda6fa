package imap

import (
	"encoding/base64"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/sqs/go-xoauth2"
)

const xoauth2Mechanism = "XOAUTH2"

// xoauth2Client authenticates with an OAuth2 bearer token.
type xoauth2Client struct {
	username string
	token    string
}

var _ sasl.Client = (*xoauth2Client)(nil)

func newXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (a *xoauth2Client) Start() (string, []byte, error) {
	// go-imap encodes the initial response itself.
	ir, err := base64.StdEncoding.DecodeString(xoauth2.XOAuth2String(a.username, a.token))
	if err != nil {
		return "", nil, err
	}
	return xoauth2Mechanism, ir, nil
}

// Next answers the JSON error challenge with an empty response so the server
// completes the exchange with a tagged NO.
func (a *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	return []byte{}, nil
}

// trustsHost reports whether host is covered by a trusted hosts pattern: "*"
// trusts every host, otherwise the pattern is a whitespace separated list.
func trustsHost(pattern, host string) bool {
	for _, entry := range strings.Fields(pattern) {
		if entry == "*" || strings.EqualFold(entry, host) {
			return true
		}
	}
	return false
}
