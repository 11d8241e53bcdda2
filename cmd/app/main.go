package main

import (
	"os"

	"github.com/maloquacious/semver"

	"github.com/maloquacious/wealthwise/internal/cli"
)

var (
	version = semver.Version{Minor: 2, PreRelease: "alpha", Build: semver.Commit()}
)

func main() {
	os.Exit(cli.NewApp(version).Execute(os.Args[1:]))
}
