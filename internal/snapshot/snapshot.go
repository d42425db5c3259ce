// Package snapshot persists a best-effort copy of Loc-RIB to disk so a
// restarted agent can converge faster (spec.md §6.3: "None required for
// correctness... An optional snapshot of Loc-RIB may be written for
// faster cold-start convergence; its format is an internal concern"). A
// missing or corrupt snapshot is never a ConfigurationError: the agent
// simply starts with an empty Loc-RIB and rebuilds it from its peers.
package snapshot

import (
	"encoding/json"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/netlab-emu/agent/internal/bgp"
)

// Save writes routes to path as zstd-compressed JSON.
func Save(path string, routes []bgp.Path) error {
	body, err := json.Marshal(routes)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	compressed := enc.EncodeAll(body, nil)
	if err := enc.Close(); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads a snapshot written by Save. Any failure — missing file,
// corrupt zstd frame, malformed JSON — is reported through ok=false
// rather than an error, since the caller's only correct response in
// every case is "start cold", not branch on the failure reason.
func Load(path string) (routes []bgp.Path, ok bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, false
	}
	defer dec.Close()

	body, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, false
	}

	var out []bgp.Path
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, false
	}
	return out, true
}
