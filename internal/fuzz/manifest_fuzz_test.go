package fuzztests

import (
	"testing"

	"nucleus/internal/config"
)

const maxFuzzInput = 1 << 16 // 64 KiB

func FuzzManifestParse(f *testing.F) {
	addManifestSeeds(f)
	f.Fuzz(func(t *testing.T, input []byte) {
		if len(input) > maxFuzzInput {
			input = append([]byte(nil), input[:maxFuzzInput]...)
		} else {
			input = append([]byte(nil), input...)
		}

		file, err := config.Parse(input)
		if err != nil {
			return
		}
		// Accepted manifests must already be normalized and usable.
		if file.Workload.Name == "" {
			t.Fatal("accepted manifest without a workload name")
		}
		if file.Workload.Tasks < 1 || file.Workload.Steps < 1 || file.Workload.Locks < 1 {
			t.Fatalf("accepted manifest with unusable workload: %+v", file.Workload)
		}
		if _, err := file.DecodedPolicy(); err != nil {
			t.Fatalf("accepted manifest with bad policy: %v", err)
		}
		if _, err := file.SeedValue(); err != nil {
			t.Fatalf("accepted manifest with bad seed: %v", err)
		}
	})
}
