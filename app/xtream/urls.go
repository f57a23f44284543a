package xtream

import (
	"fmt"
	"net/url"
)

const DefaultExtension = "mp4"

func BuildStreamURL(creds Credentials, streamID string) string {
	return buildPlayURL(creds, "live", streamID, "m3u8")
}

// BuildVodURL returns the direct-play URL of a movie; ext defaults to mp4.
func BuildVodURL(creds Credentials, streamID, ext string) string {
	return buildPlayURL(creds, "movie", streamID, ext)
}

func BuildSeriesEpisodeURL(creds Credentials, episodeID, ext string) string {
	return buildPlayURL(creds, "series", episodeID, ext)
}

func buildPlayURL(creds Credentials, kind, id, ext string) string {
	if ext == "" {
		ext = DefaultExtension
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s.%s",
		NormalizeHost(creds.Host), kind,
		url.PathEscape(creds.Username), url.PathEscape(creds.Password),
		url.PathEscape(id), ext)
}
