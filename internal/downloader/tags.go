package downloader

import (
	"strconv"
	"time"

	id3v2 "github.com/bogem/id3v2/v2"
	"github.com/kkdai/youtube/v2"
)

type audioTags struct {
	Title   string
	Artist  string
	Year    int
	Comment string
}

func tagsForVideo(video *youtube.Video) audioTags {
	tags := audioTags{
		Title:  video.Title,
		Artist: video.Author,
		Year:   formatYear(video.PublishDate),
	}
	if video.ID != "" {
		tags.Comment = "https://www.youtube.com/watch?v=" + video.ID
	}
	return tags
}

func formatYear(value time.Time) int {
	if value.IsZero() {
		return 0
	}
	return value.Year()
}

// embedID3Tags writes title, artist, year and source URL into an mp3.
func embedID3Tags(tags audioTags, outputPath string) error {
	tag, err := id3v2.Open(outputPath, id3v2.Options{Parse: true})
	if err != nil {
		return err
	}
	defer tag.Close()

	if tags.Title != "" {
		tag.SetTitle(tags.Title)
	}
	if tags.Artist != "" {
		tag.SetArtist(tags.Artist)
	}
	if tags.Year != 0 {
		tag.SetYear(strconv.Itoa(tags.Year))
	}
	if tags.Comment != "" {
		tag.AddCommentFrame(id3v2.CommentFrame{
			Encoding:    id3v2.EncodingUTF8,
			Language:    "eng",
			Description: "source",
			Text:        tags.Comment,
		})
	}
	return tag.Save()
}
