package version

// Version is the current version of the PostureGuard server
const Version = "1.0.0"

// UserAgent returns the User-Agent string for HTTP requests
func UserAgent() string {
	return "postureguard/" + Version
}

// ServerHeader returns the Server header value for HTTP responses
func ServerHeader() string {
	return "postureguard/" + Version
}
