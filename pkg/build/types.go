package build

import "github.com/cuemby/formation/pkg/types"

// Signature is a secp256k1 recoverable signature split into its fixed
// and variable parts, matching the wire shape spec.md §6 describes:
// "sig{sig, rec}" with the recovery id serialized as a single byte.
type Signature struct {
	Sig []byte `json:"sig"` // 64 bytes: r || s
	Rec byte   `json:"rec"`
}

// Compact returns the 65-byte r||s||rec form fcrypto's recovery
// functions expect.
func (s Signature) Compact() []byte {
	out := make([]byte, 65)
	copy(out, s.Sig)
	out[64] = s.Rec
	return out
}

// PackRequest is the user-submitted build payload: a name, the parsed
// Formfile manifest, and the raw artifacts tarball to build from.
type PackRequest struct {
	Name          string         `json:"name"`
	Formfile      types.Formfile `json:"formfile"`
	ArtifactsBlob []byte         `json:"artifacts"`
}

// PackBuildRequest is the signed envelope written to the pack topic
// under SubtopicPackBuildRequest. Hash = SHA3(name_hash || formfile_json)
// per spec.md §4.3; Sig is a recoverable signature over Hash.
type PackBuildRequest struct {
	Request PackRequest `json:"request"`
	Hash    [32]byte    `json:"hash"`
	Sig     Signature   `json:"sig"`
}

// StatusKind tags the variant a PackBuildStatus carries, standing in
// for Rust's PackBuildStatus enum (Go has no sum types).
type StatusKind string

const (
	StatusStarted   StatusKind = "started"
	StatusFailed    StatusKind = "failed"
	StatusCompleted StatusKind = "completed"
)

// PackBuildStatus reports one step of a build's progress, posted to
// pack[1] at each pipeline transition.
type PackBuildStatus struct {
	Kind     StatusKind      `json:"kind"`
	BuildID  string          `json:"build_id"`
	Reason   string          `json:"reason,omitempty"`
	Instance *types.Instance `json:"instance,omitempty"`
}

// PackBuildResponse pairs a status with the request it describes, so a
// reader of pack[1] can recover full context without cross-referencing
// pack[0] -- mirroring form-pack/src/manager.rs's PackBuildResponse,
// the concrete example of spec.md §5's "cross-topic happens-before must
// be encoded in the payloads" rule.
type PackBuildResponse struct {
	Status  PackBuildStatus  `json:"status"`
	Request PackBuildRequest `json:"request"`
}
