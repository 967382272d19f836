// Package config loads the two JSON documents that bracket the bootstrap
// handshake: the client's outgoing metadata document (an external file, see
// spec §1 "loading of a metadata document from a file") and the server's
// incoming bind configuration.
package config

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// LoadMetadata reads the JSON metadata document named by path and returns
// it re-marshaled into a single compact line (no embedded newline, since
// the line framer uses '\n' as its delimiter). An empty path yields "{}".
func LoadMetadata(path string) ([]byte, error) {
	if path == "" {
		return []byte("{}"), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: read metadata file")
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "config: metadata file is not valid JSON")
	}

	line, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "config: re-marshal metadata")
	}
	return line, nil
}
