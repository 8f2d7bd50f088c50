package tle

import (
	"errors"
	"time"
)

// ISSNoradID is the catalog number of the International Space Station.
const ISSNoradID = 25544

// ErrNotFound is returned when a payload holds no element set for the wanted satellite.
var ErrNotFound = errors.New("element set not found")

// Element is one satellite's two-line element set.
type Element struct {
	NORADID int       `json:"norad_id"`
	Name    string    `json:"name"`
	Epoch   time.Time `json:"epoch"`
	Line1   string    `json:"line1"`
	Line2   string    `json:"line2"`
}

// Dataset is the element set in use and where it came from.
type Dataset struct {
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
	Element   Element   `json:"element"`
}

// Find returns the element with the given catalog number.
func Find(elements []Element, noradID int) (Element, error) {
	for _, e := range elements {
		if e.NORADID == noradID {
			return e, nil
		}
	}
	return Element{}, ErrNotFound
}
