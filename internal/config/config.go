package config

// Config holds the daemon's runtime settings, populated from CLI flags by
// cmd/comacoded and passed down to the endpoint and its collaborators.
type Config struct {
	// Bind is the UDP address the QUIC endpoint listens on, e.g. "0.0.0.0:8443".
	Bind string

	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string

	// LogFile optionally tees log output to a file in addition to stdout.
	LogFile string

	// NoBrowser is accepted from the CLI but has no effect: comacoded never
	// opens a browser.
	NoBrowser bool

	// QRTerminal prints the pairing payload's JSON to stdout on startup. No
	// QR code is rendered; that is left to an external renderer.
	QRTerminal bool

	// Mode selects the connection state machine's spawn discipline: "explicit"
	// (clients must RequestPty/StartShell before sending Input) or "legacy"
	// (bare Input/Command implicitly spawns a shell). Resolves the open
	// question in SPEC_FULL.md §9 — a daemon runs one mode at a time.
	Mode string
}

// Default returns the daemon's out-of-the-box configuration.
func Default() *Config {
	return &Config{
		Bind:     "0.0.0.0:8443",
		LogLevel: "info",
		Mode:     "explicit",
	}
}
