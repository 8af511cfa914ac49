// Command sinkgate serves the login and signup endpoints.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/patric-chuzhbe/sinkgate/internal/app"
)

var (
	buildVersion = "N/A" // set by ldflags
	buildDate    = "N/A" // set by ldflags
	buildCommit  = "N/A" // set by ldflags
)

func printBuildInfo(w io.Writer) {
	fmt.Fprintf(w, "Build version: %s\n", buildVersion)
	fmt.Fprintf(w, "Build date: %s\n", buildDate)
	fmt.Fprintf(w, "Build commit: %s\n", buildCommit)
}

func run() error {
	theApp, err := app.New()
	if err != nil {
		return err
	}
	defer theApp.Close()

	return theApp.Run()
}

// exitOnError logs err and ends the process with a non-zero status.
func exitOnError(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	printBuildInfo(os.Stdout)
	exitOnError(run())
}
