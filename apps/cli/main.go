// Command hitrun is the stand-alone CLI. It has no suites of its own; the
// history, config and id commands are what it is for. Projects build
// their own binary the same way, importing their suite packages.
package main

import "github.com/abdul-hamid-achik/hitrun/apps/cli/cmd"

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cmd.Execute(version, buildTime)
}
