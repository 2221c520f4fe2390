package port

import "context"

// ArtifactStore abstracts where job inputs live and outputs end up. The
// runner works on local paths; the store maps opaque refs to and from them.
type ArtifactStore interface {
	// ResolveInput makes the artifact behind ref available as a local
	// file. cleanup releases any temporary copy and is always non-nil.
	ResolveInput(ctx context.Context, ref string) (localPath string, cleanup func(), err error)

	// StoreOutput persists a produced file or directory and returns the
	// ref to record on the job, plus its total size in bytes.
	StoreOutput(ctx context.Context, localPath, jobID string) (ref string, size int64, err error)

	// Remove deletes the artifact behind ref. Missing artifacts are not
	// an error.
	Remove(ctx context.Context, ref string) error
}
