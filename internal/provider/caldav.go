// SPDX-License-Identifier: MIT

package provider

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openbookings/calsync/internal/domain"
)

// calDAV serves the CalDAV family (generic caldav, radicale, nextcloud).
// The families share the wire protocol and differ only in where the
// calendar home lives relative to the configured server URL.
type calDAV struct {
	kind   domain.Kind
	client *http.Client
}

func newCalDAV(kind domain.Kind, client *http.Client) *calDAV {
	return &calDAV{kind: kind, client: client}
}

func (p *calDAV) Kind() domain.Kind { return p.kind }

func (p *calDAV) ValidateConfig(creds domain.Credentials) error {
	if creds.ServerURL == "" {
		return NewError(CodeException, "server URL is required")
	}
	u, err := url.Parse(creds.ServerURL)
	if err != nil {
		return WrapError(CodeException, fmt.Errorf("invalid server URL %q: %w", creds.ServerURL, err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NewError(CodeException, fmt.Sprintf("unsupported server URL scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return NewError(CodeException, "server URL is missing host")
	}
	if creds.Username == "" || creds.Password == "" {
		return NewError(CodeUnauthorized, "username and password are required")
	}
	return nil
}

// calendarHome derives the collection to probe for this family.
func (p *calDAV) calendarHome(creds domain.Credentials) string {
	base := strings.TrimRight(creds.ServerURL, "/")
	switch p.kind {
	case domain.KindNextcloud:
		return base + "/remote.php/dav/calendars/" + url.PathEscape(creds.Username) + "/"
	case domain.KindRadicale:
		return base + "/" + url.PathEscape(creds.Username) + "/"
	default:
		return base + "/"
	}
}

const propfindCalendars = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:prop>
    <d:displayname/>
    <d:resourcetype/>
    <d:current-user-privilege-set/>
  </d:prop>
</d:propfind>`

// multistatus is the subset of the PROPFIND response we care about.
type multistatus struct {
	XMLName   xml.Name   `xml:"DAV: multistatus"`
	Responses []response `xml:"response"`
}

type response struct {
	Href  string `xml:"href"`
	Props []prop `xml:"propstat>prop"`
}

type prop struct {
	DisplayName  string       `xml:"displayname"`
	ResourceType resourceType `xml:"resourcetype"`
	Privileges   privilegeSet `xml:"current-user-privilege-set"`
}

type resourceType struct {
	Calendar *struct{} `xml:"urn:ietf:params:xml:ns:caldav calendar"`
}

type privilegeSet struct {
	Raw string `xml:",innerxml"`
}

func (p *calDAV) DiscoverCalendars(ctx context.Context, creds domain.Credentials) ([]domain.Calendar, error) {
	if err := p.ValidateConfig(creds); err != nil {
		return nil, err
	}

	body, err := p.propfind(ctx, creds, p.calendarHome(creds))
	if err != nil {
		return nil, err
	}

	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, WrapError(CodeException, fmt.Errorf("parse multistatus: %w", err))
	}

	calendars := make([]domain.Calendar, 0, len(ms.Responses))
	for _, resp := range ms.Responses {
		for _, pr := range resp.Props {
			if pr.ResourceType.Calendar == nil {
				continue
			}
			name := pr.DisplayName
			if name == "" {
				name = strings.Trim(lastPathSegment(resp.Href), "/")
			}
			calendars = append(calendars, domain.Calendar{
				ID:       resp.Href,
				Name:     name,
				ReadOnly: !strings.Contains(pr.Privileges.Raw, "write"),
			})
		}
	}
	return calendars, nil
}

// TestConnection probes the server with a depth-0 PROPFIND against the
// calendar home. Discovery is the liveness signal for this family.
func (p *calDAV) TestConnection(ctx context.Context, creds domain.Credentials) error {
	if err := p.ValidateConfig(creds); err != nil {
		return err
	}
	_, err := p.propfindDepth(ctx, creds, p.calendarHome(creds), "0")
	return err
}

// BusyWindows issues a free-busy REPORT and extracts FREEBUSY periods.
func (p *calDAV) BusyWindows(ctx context.Context, creds domain.Credentials, from, to time.Time) ([]domain.BusySlot, error) {
	if err := p.ValidateConfig(creds); err != nil {
		return nil, err
	}

	const layout = "20060102T150405Z"
	report := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<c:free-busy-query xmlns:c="urn:ietf:params:xml:ns:caldav">
  <c:time-range start=%q end=%q/>
</c:free-busy-query>`, from.UTC().Format(layout), to.UTC().Format(layout))

	req, err := http.NewRequestWithContext(ctx, "REPORT", p.calendarHome(creds), strings.NewReader(report))
	if err != nil {
		return nil, WrapError(CodeException, err)
	}
	req.SetBasicAuth(creds.Username, creds.Password)
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	req.Header.Set("Depth", "1")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, Classify(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if cerr := classifyStatus(resp); cerr != nil {
		return nil, cerr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, Classify(err)
	}
	return parseFreeBusy(body)
}

// parseFreeBusy extracts busy periods from FREEBUSY lines of a VFREEBUSY
// payload. Unparseable periods are skipped rather than failing the fetch.
func parseFreeBusy(body []byte) ([]domain.BusySlot, error) {
	const layout = "20060102T150405Z"
	var slots []domain.BusySlot

	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "FREEBUSY") {
			continue
		}
		_, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		for _, period := range strings.Split(value, ",") {
			startRaw, endRaw, ok := strings.Cut(strings.TrimSpace(period), "/")
			if !ok {
				continue
			}
			start, err := time.Parse(layout, startRaw)
			if err != nil {
				continue
			}
			end, err := time.Parse(layout, endRaw)
			if err != nil {
				continue
			}
			slots = append(slots, domain.BusySlot{Start: start, End: end})
		}
	}
	return slots, nil
}

func (p *calDAV) propfind(ctx context.Context, creds domain.Credentials, target string) ([]byte, error) {
	return p.propfindDepth(ctx, creds, target, "1")
}

func (p *calDAV) propfindDepth(ctx context.Context, creds domain.Credentials, target, depth string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "PROPFIND", target, bytes.NewReader([]byte(propfindCalendars)))
	if err != nil {
		return nil, WrapError(CodeException, err)
	}
	req.SetBasicAuth(creds.Username, creds.Password)
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	req.Header.Set("Depth", depth)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, Classify(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if cerr := classifyStatus(resp); cerr != nil {
		return nil, cerr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, Classify(err)
	}
	return body, nil
}

func lastPathSegment(href string) string {
	href = strings.TrimRight(href, "/")
	if idx := strings.LastIndex(href, "/"); idx >= 0 {
		return href[idx+1:]
	}
	return href
}
