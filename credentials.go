package bugdrill

// Credential holds the token pair issued by the identity service. The access
// token is short-lived and sent on every authenticated request; the refresh
// token is longer-lived and sent only to the refresh endpoint. Both are
// opaque strings to this layer.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Complete reports whether both tokens are present. A partial pair is treated
// the same as no credential at all.
func (c Credential) Complete() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// HasRefreshToken reports whether a refresh token is available.
func (c Credential) HasRefreshToken() bool {
	return c.RefreshToken != ""
}
