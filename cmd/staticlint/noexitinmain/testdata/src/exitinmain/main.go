package main

import (
	"errors"
	"log"
	"os"
)

func run() error {
	return errors.New("boom")
}

func exitOnError(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	exitOnError(run())

	defer func() {
		os.Exit(3)
	}()

	if err := run(); err != nil {
		log.Fatal(err) // want "avoid calling log.Fatal in main.main"
	}
	log.Fatalf("code %d", 2) // want "avoid calling log.Fatalf in main.main"
	log.Fatalln("bye")       // want "avoid calling log.Fatalln in main.main"
	log.Println("still running")
	os.Exit(1) // want "avoid calling os.Exit in main.main"
}
