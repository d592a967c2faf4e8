package worker

import (
	"os"
)

// readFileIfExists returns (nil, nil) if path does not exist, rather
// than an error, so callers can treat "no checkpoint yet" as a normal
// first-run case.
func readFileIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}
