package main

import (
	"os"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/cli"
)

var version = "0.2.0"

func main() {
	if err := cli.ExecuteWithVersion(version); err != nil {
		os.Exit(1)
	}
}
