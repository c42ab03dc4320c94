package rebuild

import (
	"github.com/distribution/reference"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/solo-io/kubedebug/pkg/options"
)

// ImageRef is a repository plus tag, e.g. registry.local/team/app:v1.
type ImageRef struct {
	Repository string
	Tag        string
}

func (r ImageRef) String() string {
	if r.Tag == "" {
		return r.Repository
	}
	return r.Repository + ":" + r.Tag
}

// Repository returns the repository part of an image reference, dropping any
// tag or digest. The name is not normalized, "app" stays "app".
func Repository(image string) (string, error) {
	ref, err := reference.Parse(image)
	if err != nil {
		return "", errors.Wrapf(err, "parsing image %q", image)
	}
	named, ok := ref.(reference.Named)
	if !ok {
		return "", errors.Errorf("image %q has no repository", image)
	}
	return named.Name(), nil
}

// NewImageRef returns a fresh, never reused tag in repository.
func NewImageRef(repository string) ImageRef {
	id := uuid.New().String()
	return ImageRef{Repository: repository, Tag: options.ImageTagPrefix + id[:8]}
}
