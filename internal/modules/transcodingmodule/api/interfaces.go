package api

import (
	"context"

	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/core/clearkey"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/types"
)

// JobService is what the handlers need from the transcoding manager
type JobService interface {
	Submit(ctx context.Context, req types.JobRequest) (*types.Job, error)
	Get(id string) (*types.Job, error)
	List(filter types.JobFilter) ([]*types.Job, error)
	Cancel(id string) error
	License(id string) (*clearkey.License, error)
}
