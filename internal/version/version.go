package version

// Version information injected at build time.
var (
	AppName = "lm-dialogue"
	// Version is the application's version
	Version = "dev"
	// BuildTime is the time the application was built
	BuildTime = "unknown"
	// GitCommit is the git commit hash the application was built from
	GitCommit = "unknown"
)

// Info returns a formatted string containing version information.
func Info() string {
	return AppName + " " + Version + " (build: " + BuildTime + ", commit: " + GitCommit + ")"
}

// UserAgent is sent on outgoing requests to the inference server.
func UserAgent() string {
	return AppName + "/" + Version
}
