package cache

import (
	"encoding/json"
	"time"

	"github.com/convstate/core/internal/skeleton"
)

// manifestSchemaVersion is bumped whenever the on-disk manifest shape
// changes incompatibly. An older version on load triggers a full rebuild
// rather than a hard failure, mirroring a migrate-or-rebuild pattern common
// to small embedded-store schemas.
const manifestSchemaVersion = 1

type manifest struct {
	SchemaVersion int                    `json:"schemaVersion"`
	SavedAt       time.Time              `json:"savedAt"`
	Skeletons     []*skeleton.Skeleton   `json:"skeletons"`
}

func encodeManifest(skeletons map[string]*skeleton.Skeleton) ([]byte, error) {
	m := manifest{
		SchemaVersion: manifestSchemaVersion,
		SavedAt:       time.Now().UTC(),
		Skeletons:     make([]*skeleton.Skeleton, 0, len(skeletons)),
	}
	for _, sk := range skeletons {
		m.Skeletons = append(m.Skeletons, sk)
	}
	return json.MarshalIndent(m, "", "  ")
}

// decodeManifest returns (skeletons, ok). ok is false if the manifest is
// unreadable or carries an unrecognized schema version, in which case the
// caller falls back to a full rebuild.
func decodeManifest(raw []byte) (map[string]*skeleton.Skeleton, bool) {
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	if m.SchemaVersion != manifestSchemaVersion {
		return nil, false
	}
	out := make(map[string]*skeleton.Skeleton, len(m.Skeletons))
	for _, sk := range m.Skeletons {
		out[sk.TaskID] = sk
	}
	return out, true
}
