package main

import (
	stdlog "log"
)

type fakeLog struct{}

func (fakeLog) Fatal(...interface{}) {}

func main() {
	log := fakeLog{}
	log.Fatal("not the standard logger")

	stdlog.Fatal("renamed import") // want "avoid calling log.Fatal in main.main"
}
