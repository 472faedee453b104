// Package bugdrill is the Go client for the bugdrill API. It implements the
// authenticated session layer used by bugdrill frontends: acquiring,
// persisting, and transparently refreshing access credentials for every call,
// plus the session state machine that decides whether the app is signed in.
//
// # Architecture
//
// Store: durable key/value storage for the access token, refresh token, and
// last-known user profile. Implementations live in this package (MemoryStore)
// and under stores/ (fs, securefs, gormstore).
//
// Client: a single HTTP client configured with a base address and timeout.
// Every request passes through an authenticating transport that attaches the
// current access token as a bearer credential and, on an authorization
// failure, drives one token refresh and replays the request once.
//
// Session: the state machine exposing Login, Signup, Logout and CheckAuth as
// the only mutators of "who is the current user". It reconciles
// server-confirmed identity with locally cached identity across restarts and
// network failures, and broadcasts every transition to subscribers.
//
// # Basic Usage
//
// Set up a store, a client, and a session:
//
//	store, err := fs.NewStore("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := bugdrill.NewClient("https://api.bugdrill.com/api/v1", store)
//	session := bugdrill.NewSession(client)
//
// React to state transitions instead of polling:
//
//	cancel := session.Subscribe(func(st bugdrill.State) {
//	    if st.Authenticated {
//	        fmt.Println("signed in as", st.User.Email)
//	    }
//	})
//	defer cancel()
//
// Sign in and bootstrap on the next launch:
//
//	if _, err := session.Login(ctx, email, password); err != nil {
//	    // session.State().Err carries the user-facing message
//	}
//
//	// at process start
//	session.CheckAuth(ctx)
//
// # Token Refresh
//
// Access tokens are short-lived. When a request comes back with HTTP 401 the
// client exchanges the stored refresh token for a new access token and
// replays the failed request exactly once. Concurrent requests that hit the
// same expiry share a single refresh call; the refresh token is never used
// twice for one expiry event. If the refresh itself fails, all stored
// credentials are cleared and the session drops to unauthenticated.
//
// Both tokens are opaque strings to this package: nothing here decodes or
// validates their contents.
package bugdrill
