// Package composeconst holds status codes, terminal dimensions and naming
// templates shared across the stack, terminal and federation packages.
package composeconst

// Stack status codes, per the aggregated stack list.
const (
	StatusUnknown = iota
	StatusCreatedFile
	StatusCreatedStack
	StatusRunning
	StatusExited
)

// Terminal dimensions for the various terminal kinds.
const (
	TerminalCols         = 105
	TerminalRows         = 10
	ProgressTerminalRows = 8
	CombinedTerminalCols = 58
	CombinedTerminalRows = 20
)

// AllEndpoints is the sentinel routing key that broadcasts a federation
// request to every online peer and also dispatches it locally.
const AllEndpoints = "##ALL_COMPOSEFORGE_ENDPOINTS##"

// AcceptedComposeFileNames lists the accepted compose file variants in
// detection order. The first one found in a stack's directory wins and is
// never renamed.
var AcceptedComposeFileNames = []string{
	"compose.yaml",
	"compose.yml",
	"docker-compose.yaml",
	"docker-compose.yml",
}

// MinAgentVersion is the lowest semantic version of a peer this server will
// federate with. Older peers are disconnected after version negotiation.
const MinAgentVersion = "1.4.0"

// Version is this build's own semantic version, sent in the "info" event
// and in federation handshakes so peers can apply MinAgentVersion.
const Version = "1.5.0"

// VersionCheckURL is the remote JSON document the broadcast scheduler
// polls every 48h for the latest stable release.
const VersionCheckURL = "https://composeforge.example.com/version.json"
