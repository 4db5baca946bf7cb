package main

import "github.com/gradekit/gradesvc/internal/cli"

// version can be set during build with -ldflags.
var version = "dev"

func main() {
	cli.SetVersion(version)
	cli.Execute()
}
