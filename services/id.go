package services

import (
	"media-downloader-go/config"

	"github.com/jaevor/go-nanoid"
)

// NewID generates job and download identifiers
var NewID func() string

func init() {
	gen, err := nanoid.Standard(config.IDLength)
	if err != nil {
		panic(err)
	}
	NewID = gen
}
