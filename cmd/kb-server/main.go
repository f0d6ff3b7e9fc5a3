// Package main is the entry point for the knowledge base service.
//
// The service ingests documents, websites and YouTube videos per tenant,
// indexes them as embedded chunks, and answers questions over them.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/sentinel-kb/cmd/kb-server/app"
)

func main() {
	app.NewApp().Run()
}
