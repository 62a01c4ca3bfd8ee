package transport

// Path constants for the coordinator and camera-node HTTP surfaces. Lifted
// to typed compile-time constants here rather than scattered string
// literals, per the design note on lazy_static session keys and URL
// constants.
const (
	PathRemoteCameraInfo = "/remote-camera-info/"
	PathCallback         = "/callback"
	PathBraidEvents      = "/braid-events"
	PathStrandCamEvents  = "/strand-cam-events"
	PathCamProxy         = "/cam-proxy/"
)

// TokenQueryParam is the query parameter carrying the bearer token on a
// client's first contact with a server.
const TokenQueryParam = "token"

// TokenCookieName is the cookie set on first contact and sent on every
// subsequent request.
const TokenCookieName = "braidcore_token"

// RequestTimeoutSeconds is the fixed timeout, in seconds, applied to every
// coordinator<->camera-node HTTP call.
const RequestTimeoutSeconds = 5
