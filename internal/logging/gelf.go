package logging

import (
	"io"

	"github.com/Graylog2/go-gelf/gelf"
)

// NewGraylogWriter connects a GELF writer to the given address.
// The returned writer can be passed to SlogManager.Setup.
func NewGraylogWriter(address string) (io.WriteCloser, error) {
	w, err := gelf.NewWriter(address)
	if err != nil {
		return nil, err
	}
	return w, nil
}
