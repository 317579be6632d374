package metadata

import (
	"context"
	"fmt"

	"github.com/kkdai/youtube/v2"

	"github.com/lvcoi/ytinfo/internal/videoid"
	"github.com/lvcoi/ytinfo/internal/ytclient"
)

// Player reads metadata from the watch page player response. It needs no
// API key but carries no tags.
type Player struct {
	Client ytclient.Client
}

func (p *Player) Video(ctx context.Context, id videoid.ID) (Video, error) {
	video, err := p.Client.GetVideoContext(ctx, string(id))
	if err != nil {
		cat := ytclient.CategoryOf(err)
		if cat == ytclient.CategoryInternal {
			cat = ytclient.CategoryUnavailable
		}
		return Video{}, ytclient.Wrap(cat, fmt.Errorf("fetching player response: %w", err))
	}
	return videoFromPlayer(id, video), nil
}

func videoFromPlayer(id videoid.ID, video *youtube.Video) Video {
	v := Video{
		ID:           string(id),
		Title:        video.Title,
		Description:  video.Description,
		Channel:      video.Author,
		ChannelID:    video.ChannelID,
		ThumbnailURL: bestThumbnailURL(video.Thumbnails),
		PublishedAt:  video.PublishDate,
		Source:       "player",
	}
	if video.ID != "" {
		v.ID = video.ID
	}
	if video.Duration > 0 {
		v.Duration = FormatISODuration(video.Duration)
	}
	return v
}

func bestThumbnailURL(thumbnails youtube.Thumbnails) string {
	bestURL := ""
	var bestArea uint
	for _, thumb := range thumbnails {
		if area := thumb.Width * thumb.Height; area >= bestArea {
			bestArea = area
			bestURL = thumb.URL
		}
	}
	return bestURL
}
