package xtream

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/lysyi3m/xtream-catalog/app/textnorm"
	"golang.org/x/text/encoding/htmlindex"
)

// ErrNotXmltv is returned when a document ends before any <tv> element.
var ErrNotXmltv = errors.New("response is not an XMLTV document")

// ErrHeaderTimeout is returned when the portal does not answer the guide
// request within the request timeout.
var ErrHeaderTimeout = errors.New("timed out waiting for response headers")

type xmltvChannelNode struct {
	ID           string   `xml:"id,attr"`
	DisplayNames []string `xml:"display-name"`
}

type xmltvProgrammeNode struct {
	Channel    string   `xml:"channel,attr"`
	Start      string   `xml:"start,attr"`
	Stop       string   `xml:"stop,attr"`
	Titles     []string `xml:"title"`
	Descs      []string `xml:"desc"`
	Categories []string `xml:"category"`
}

// FetchXmltvEpg downloads and parses the portal's XMLTV guide. The request
// timeout bounds the wait for response headers; the body is bounded by ctx
// only since guides are often large.
func (c *Client) FetchXmltvEpg(ctx context.Context, creds Credentials) (*XmltvPayload, error) {
	query := url.Values{}
	query.Set("username", creds.Username)
	query.Set("password", creds.Password)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	headerTimer := time.AfterFunc(c.requestTimeout(creds), cancel)
	resp, err := c.open(ctx, "xmltv", NormalizeHost(creds.Host)+"/xmltv.php?"+query.Encode())
	if !headerTimer.Stop() {
		if err == nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("failed to fetch xmltv: %w", ErrHeaderTimeout)
	}
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := ParseXmltv(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse xmltv: %w", err)
	}
	return payload, nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

// ParseXmltv streams channels and programmes out of an XMLTV document.
// Nodes lacking their id or channel attribute are skipped. A document cut
// off mid-way keeps everything read before the break.
func ParseXmltv(r io.Reader) (*XmltvPayload, error) {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = charsetReader
	decoder.Strict = false
	decoder.AutoClose = xml.HTMLAutoClose
	decoder.Entity = xml.HTMLEntity

	payload := &XmltvPayload{
		Channels: []XmltvChannel{},
		Listings: []XmltvListing{},
	}
	seenTv := false

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			if !seenTv {
				return nil, fmt.Errorf("%w: %v", ErrNotXmltv, err)
			}
			slog.Warn("XMLTV document truncated, keeping parsed entries",
				"error", err,
				"channels", len(payload.Channels),
				"listings", len(payload.Listings))
			break
		}

		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "tv":
			seenTv = true
		case "channel":
			var node xmltvChannelNode
			if err := decoder.DecodeElement(&node, &start); err != nil {
				slog.Debug("Skipping undecodable XMLTV channel", "error", err)
				continue
			}
			if channel, ok := node.toChannel(); ok {
				payload.Channels = append(payload.Channels, channel)
			}
		case "programme":
			var node xmltvProgrammeNode
			if err := decoder.DecodeElement(&node, &start); err != nil {
				slog.Debug("Skipping undecodable XMLTV programme", "error", err)
				continue
			}
			if listing, ok := node.toListing(); ok {
				payload.Listings = append(payload.Listings, listing)
			}
		}
	}

	if !seenTv {
		return nil, ErrNotXmltv
	}
	return payload, nil
}

func (n xmltvChannelNode) toChannel() (XmltvChannel, bool) {
	id := strings.TrimSpace(n.ID)
	if id == "" {
		return XmltvChannel{}, false
	}

	name := textnorm.DecodeText(first(n.DisplayNames))
	return XmltvChannel{
		ChannelID:      id,
		DisplayName:    name,
		NormalizedName: textnorm.NormalizeName(name),
	}, true
}

func (n xmltvProgrammeNode) toListing() (XmltvListing, bool) {
	channel := strings.TrimSpace(n.Channel)
	if channel == "" {
		return XmltvListing{}, false
	}

	return XmltvListing{
		ChannelID:   channel,
		Title:       textnorm.DecodeText(first(n.Titles)),
		Description: textnorm.DecodeText(first(n.Descs)),
		Category:    textnorm.DecodeText(first(n.Categories)),
		Start:       strings.TrimSpace(n.Start),
		End:         strings.TrimSpace(n.Stop),
	}, true
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}
