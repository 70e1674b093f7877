package ports

import "context"

// ImageBuildObserver receives progress events while an image is built.
type ImageBuildObserver interface {
	OnMessage(message string)
	OnError(message string)
	OnCompleted()
}

// ImageBuilder builds container images used by build instructions.
type ImageBuilder interface {
	// BuildImage builds an image tagged name from the given Dockerfile
	// contents. OnCompleted is always called, even when an error is returned.
	BuildImage(ctx context.Context, name, dockerfile string, observer ImageBuildObserver) error

	// BuildImageFromRepo clones a repository and builds the Dockerfile at
	// its root.
	BuildImageFromRepo(ctx context.Context, repoURL, name string, observer ImageBuildObserver) error
}
