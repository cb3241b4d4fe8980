package hunt

import (
	"encoding/json"
	"fmt"

	"github.com/dexhelper/pkg/compression"
)

func decodeReport(data []byte) (*Report, error) {
	plain, _, err := compression.AutoDecompress(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress report: %w", err)
	}
	var report Report
	if err := json.Unmarshal(plain, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &report, nil
}

// Unresolved lists fingerprints that matched nothing or failed.
func (r *Report) Unresolved() []string {
	var names []string
	for _, res := range r.Resolutions {
		if res.Error != "" || len(res.Handles) == 0 {
			names = append(names, res.Name)
		}
	}
	return names
}

// Ambiguous lists fingerprints that matched more than one member.
func (r *Report) Ambiguous() []string {
	var names []string
	for _, res := range r.Resolutions {
		if res.Error == "" && len(res.Handles) > 1 {
			names = append(names, res.Name)
		}
	}
	return names
}
