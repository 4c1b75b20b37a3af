package engine

import (
	"time"

	"github.com/marmos91/agentfs/pkg/metadata"
)

// StreamsList lists a file's data streams, the default stream first.
func (e *Engine) StreamsList(auth *metadata.AuthContext, path string) (streams []metadata.StreamInfo, err error) {
	defer e.observe("StreamsList", time.Now(), &err)

	if !e.opts.EnableADS {
		return nil, metadata.NewError(metadata.ErrNotSupported, path, "alternate data streams are disabled")
	}
	err = e.inspect(auth, func(o *op) error {
		n, err := o.t.ResolvePath(path)
		if err != nil {
			return err
		}
		switch n.Type {
		case metadata.FileTypeDirectory:
			return metadata.NewError(metadata.ErrIsDirectory, path, "is a directory")
		case metadata.FileTypeSymlink:
			return metadata.NewError(metadata.ErrInvalidArgument, path, "not a regular file")
		}
		if err := o.require(n, metadata.PermRead, path); err != nil {
			return err
		}
		streams = n.StreamInfos()
		return nil
	})
	return streams, err
}
