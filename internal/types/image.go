package types

import "time"

// NodeImage is a rendered PNG of a design node.
type NodeImage struct {
	PNGBase64      string    `json:"pngBase64"`
	SourceImageURL string    `json:"sourceImageUrl"`
	FetchedAt      time.Time `json:"fetchedAt"`
}
