package domain

// RequestURIPrefix is the URN prefix of pushed authorization request
// references (RFC 9126).
const RequestURIPrefix = "urn:ietf:params:oauth:request_uri:"

// PushedRequestPayload is the kind specific body of a pushed
// authorization request grant. Params holds the pushed authorization
// parameters verbatim, to be replayed when the reference is redeemed
// at the authorization endpoint.
type PushedRequestPayload struct {
	Params map[string][]string `json:"params"`
}
