package archive

import (
	"context"
	"fmt"

	"github.com/onnwee/vod-chat/twitchapi"
)

// Catalog is the subset of Helix the archiver needs.
type Catalog interface {
	GetUserID(ctx context.Context, login string) (string, error)
	ListVideos(ctx context.Context, userID, after string, first int) ([]twitchapi.VideoMeta, string, error)
	GetVideo(ctx context.Context, id string) (*twitchapi.VideoMeta, error)
}

// Resolver turns a channel into its most recent archived VODs.
type Resolver struct {
	Catalog  Catalog
	PageSize int // Helix page size, at most 100
}

// Resolve returns up to count video IDs of channel's archives, newest first.
func (r *Resolver) Resolve(ctx context.Context, channel string, count int) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}
	userID, err := r.Catalog.GetUserID(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("resolve channel %q: %w", channel, err)
	}
	pageSize := r.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	pageSize = min(pageSize, count)

	var (
		ids    []string
		cursor string
		seen   = make(map[string]struct{})
	)
	for len(ids) < count {
		videos, next, err := r.Catalog.ListVideos(ctx, userID, cursor, pageSize)
		if err != nil {
			return nil, fmt.Errorf("list videos of %q: %w", channel, err)
		}
		for _, v := range videos {
			if _, dup := seen[v.ID]; dup {
				continue
			}
			seen[v.ID] = struct{}{}
			ids = append(ids, v.ID)
			if len(ids) == count {
				break
			}
		}
		if next == "" || next == cursor || len(videos) == 0 {
			break
		}
		cursor = next
	}
	return ids, nil
}
