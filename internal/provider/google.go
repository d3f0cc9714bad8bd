// SPDX-License-Identifier: MIT

package provider

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/openbookings/calsync/internal/domain"
)

// google talks to the Google Calendar v3 REST API.
type google struct {
	oauthBackend
}

func newGoogle(client *http.Client) *google {
	return &google{oauthBackend{
		kind:         domain.KindGoogle,
		client:       client,
		clientID:     os.Getenv("CALSYNC_GOOGLE_CLIENT_ID"),
		clientSecret: os.Getenv("CALSYNC_GOOGLE_CLIENT_SECRET"),
		endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: envOr("CALSYNC_GOOGLE_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		},
		apiBase: envOr("CALSYNC_GOOGLE_API_BASE", "https://www.googleapis.com/calendar/v3"),
	}}
}

type googleCalendarList struct {
	Items []struct {
		ID         string `json:"id"`
		Summary    string `json:"summary"`
		Primary    bool   `json:"primary"`
		AccessRole string `json:"accessRole"`
	} `json:"items"`
}

func (p *google) DiscoverCalendars(ctx context.Context, creds domain.Credentials) ([]domain.Calendar, error) {
	body, err := p.get(ctx, creds, "/users/me/calendarList")
	if err != nil {
		return nil, err
	}

	var list googleCalendarList
	if err := decode(body, &list); err != nil {
		return nil, err
	}

	calendars := make([]domain.Calendar, 0, len(list.Items))
	for _, item := range list.Items {
		calendars = append(calendars, domain.Calendar{
			ID:       item.ID,
			Name:     item.Summary,
			Primary:  item.Primary,
			ReadOnly: item.AccessRole == "reader" || item.AccessRole == "freeBusyReader",
		})
	}
	return calendars, nil
}

func (p *google) TestConnection(ctx context.Context, creds domain.Credentials) error {
	_, err := p.get(ctx, creds, "/users/me/calendarList?"+url.Values{"maxResults": {"1"}}.Encode())
	return err
}

type googleFreeBusy struct {
	Calendars map[string]struct {
		Busy []struct {
			Start time.Time `json:"start"`
			End   time.Time `json:"end"`
		} `json:"busy"`
	} `json:"calendars"`
}

// BusyWindows queries the freeBusy endpoint for the primary calendar.
func (p *google) BusyWindows(ctx context.Context, creds domain.Credentials, from, to time.Time) ([]domain.BusySlot, error) {
	payload := map[string]any{
		"timeMin": from.UTC().Format(time.RFC3339),
		"timeMax": to.UTC().Format(time.RFC3339),
		"items":   []map[string]string{{"id": "primary"}},
	}

	body, err := p.post(ctx, creds, "/freeBusy", payload)
	if err != nil {
		return nil, err
	}

	var fb googleFreeBusy
	if err := decode(body, &fb); err != nil {
		return nil, err
	}

	var slots []domain.BusySlot
	for _, cal := range fb.Calendars {
		for _, busy := range cal.Busy {
			slots = append(slots, domain.BusySlot{Start: busy.Start, End: busy.End})
		}
	}
	return slots, nil
}
