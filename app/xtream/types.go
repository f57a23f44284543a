package xtream

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// FlexString accepts JSON strings, numbers, booleans and null. Portals are
// inconsistent about the type of ids, timestamps and flags.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0, bytes.Equal(b, []byte("null")):
		*f = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
	case b[0] == '[' || b[0] == '{':
		// Some portals send [] for "no value"
		*f = ""
	default:
		*f = FlexString(b)
	}
	return nil
}

func (f FlexString) String() string {
	return string(f)
}

// Int returns the value as an integer, or 0 when it is not numeric.
func (f FlexString) Int() int64 {
	n, err := strconv.ParseInt(string(f), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Credentials identify one portal account.
type Credentials struct {
	Host     string
	Username string
	Password string
	// Timeout overrides the client timeout for JSON requests when non-zero.
	Timeout time.Duration
}

type AuthResponse struct {
	UserInfo   UserInfo   `json:"user_info"`
	ServerInfo ServerInfo `json:"server_info"`
}

type UserInfo struct {
	Username             FlexString   `json:"username"`
	Password             FlexString   `json:"password"`
	Message              FlexString   `json:"message,omitempty"`
	Auth                 FlexString   `json:"auth"`
	Status               FlexString   `json:"status"`
	ExpDate              FlexString   `json:"exp_date,omitempty"`
	IsTrial              FlexString   `json:"is_trial,omitempty"`
	ActiveCons           FlexString   `json:"active_cons,omitempty"`
	CreatedAt            FlexString   `json:"created_at,omitempty"`
	MaxConnections       FlexString   `json:"max_connections,omitempty"`
	AllowedOutputFormats []FlexString `json:"allowed_output_formats,omitempty"`
}

type ServerInfo struct {
	URL            FlexString `json:"url"`
	Port           FlexString `json:"port"`
	HTTPSPort      FlexString `json:"https_port,omitempty"`
	ServerProtocol FlexString `json:"server_protocol,omitempty"`
	RTMPPort       FlexString `json:"rtmp_port,omitempty"`
	TimestampNow   FlexString `json:"timestamp_now,omitempty"`
	TimeNow        FlexString `json:"time_now,omitempty"`
	Timezone       FlexString `json:"timezone,omitempty"`
}

type Category struct {
	CategoryID   FlexString `json:"category_id"`
	CategoryName FlexString `json:"category_name"`
	ParentID     FlexString `json:"parent_id,omitempty"`
}

type LiveStream struct {
	Num               FlexString `json:"num,omitempty"`
	Name              FlexString `json:"name"`
	StreamType        FlexString `json:"stream_type,omitempty"`
	StreamID          FlexString `json:"stream_id"`
	StreamIcon        FlexString `json:"stream_icon,omitempty"`
	EpgChannelID      FlexString `json:"epg_channel_id,omitempty"`
	EpgID             FlexString `json:"epg_id,omitempty"`
	Added             FlexString `json:"added,omitempty"`
	CategoryID        FlexString `json:"category_id,omitempty"`
	CustomSid         FlexString `json:"custom_sid,omitempty"`
	TvArchive         FlexString `json:"tv_archive,omitempty"`
	TvArchiveDuration FlexString `json:"tv_archive_duration,omitempty"`
	DirectSource      FlexString `json:"direct_source,omitempty"`

	// Raw is the record exactly as the portal sent it.
	Raw json.RawMessage `json:"-"`
}

func (s *LiveStream) UnmarshalJSON(b []byte) error {
	type alias LiveStream
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*s = LiveStream(a)
	s.Raw = append(json.RawMessage(nil), b...)
	return nil
}

type VodStream struct {
	Num                FlexString `json:"num,omitempty"`
	Name               FlexString `json:"name"`
	StreamType         FlexString `json:"stream_type,omitempty"`
	StreamID           FlexString `json:"stream_id"`
	StreamIcon         FlexString `json:"stream_icon,omitempty"`
	Rating             FlexString `json:"rating,omitempty"`
	Rating5Based       FlexString `json:"rating_5based,omitempty"`
	Added              FlexString `json:"added,omitempty"`
	CategoryID         FlexString `json:"category_id,omitempty"`
	ContainerExtension FlexString `json:"container_extension,omitempty"`
	CustomSid          FlexString `json:"custom_sid,omitempty"`
	DirectSource       FlexString `json:"direct_source,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (s *VodStream) UnmarshalJSON(b []byte) error {
	type alias VodStream
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*s = VodStream(a)
	s.Raw = append(json.RawMessage(nil), b...)
	return nil
}

type SeriesItem struct {
	Num            FlexString `json:"num,omitempty"`
	Name           FlexString `json:"name"`
	SeriesID       FlexString `json:"series_id"`
	Cover          FlexString `json:"cover,omitempty"`
	Plot           FlexString `json:"plot,omitempty"`
	Cast           FlexString `json:"cast,omitempty"`
	Director       FlexString `json:"director,omitempty"`
	Genre          FlexString `json:"genre,omitempty"`
	ReleaseDate    FlexString `json:"releaseDate,omitempty"`
	LastModified   FlexString `json:"last_modified,omitempty"`
	Rating         FlexString `json:"rating,omitempty"`
	Rating5Based   FlexString `json:"rating_5based,omitempty"`
	YoutubeTrailer FlexString `json:"youtube_trailer,omitempty"`
	EpisodeRunTime FlexString `json:"episode_run_time,omitempty"`
	CategoryID     FlexString `json:"category_id,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (s *SeriesItem) UnmarshalJSON(b []byte) error {
	type alias SeriesItem
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*s = SeriesItem(a)
	s.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// RawJSON returns the portal record, or a re-encoding when it was built
// in code rather than decoded.
func RawJSON(raw json.RawMessage, v any) string {
	if len(raw) > 0 {
		return string(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

type XmltvChannel struct {
	ChannelID      string `json:"channel_id"`
	DisplayName    string `json:"display_name"`
	NormalizedName string `json:"normalized_name"`
}

type XmltvListing struct {
	ChannelID   string `json:"channel_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Start       string `json:"start"`
	End         string `json:"end"`
}

type XmltvPayload struct {
	Channels []XmltvChannel
	Listings []XmltvListing
}
