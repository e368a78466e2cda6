package version

import "fmt"

// Set at link time:
//
//	-X 'github.com/compozy/kbchat/pkg/version.Version=v0.3.0'
//	-X 'github.com/compozy/kbchat/pkg/version.CommitHash=abc123'
//	-X 'github.com/compozy/kbchat/pkg/version.BuildDate=2026-01-01T00:00:00Z'
var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)

type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildDate  string `json:"build_date"`
}

func Get() Info {
	return Info{Version: Version, CommitHash: CommitHash, BuildDate: BuildDate}
}

// String renders the build info on one line for --version output and logs.
func (i Info) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", i.Version, i.CommitHash, i.BuildDate)
}
