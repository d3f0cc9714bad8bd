// SPDX-License-Identifier: MIT

package provider

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/openbookings/calsync/internal/domain"
)

// outlook talks to the Microsoft Graph calendar API.
type outlook struct {
	oauthBackend
}

func newOutlook(client *http.Client) *outlook {
	return &outlook{oauthBackend{
		kind:         domain.KindOutlook,
		client:       client,
		clientID:     os.Getenv("CALSYNC_OUTLOOK_CLIENT_ID"),
		clientSecret: os.Getenv("CALSYNC_OUTLOOK_CLIENT_SECRET"),
		endpoint: oauth2.Endpoint{
			AuthURL:  "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
			TokenURL: envOr("CALSYNC_OUTLOOK_TOKEN_URL", "https://login.microsoftonline.com/common/oauth2/v2.0/token"),
		},
		apiBase: envOr("CALSYNC_OUTLOOK_API_BASE", "https://graph.microsoft.com/v1.0"),
	}}
}

type graphCalendarList struct {
	Value []struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		IsDefault bool   `json:"isDefaultCalendar"`
		CanEdit   bool   `json:"canEdit"`
	} `json:"value"`
}

func (p *outlook) DiscoverCalendars(ctx context.Context, creds domain.Credentials) ([]domain.Calendar, error) {
	body, err := p.get(ctx, creds, "/me/calendars")
	if err != nil {
		return nil, err
	}

	var list graphCalendarList
	if err := decode(body, &list); err != nil {
		return nil, err
	}

	calendars := make([]domain.Calendar, 0, len(list.Value))
	for _, item := range list.Value {
		calendars = append(calendars, domain.Calendar{
			ID:       item.ID,
			Name:     item.Name,
			Primary:  item.IsDefault,
			ReadOnly: !item.CanEdit,
		})
	}
	return calendars, nil
}

func (p *outlook) TestConnection(ctx context.Context, creds domain.Credentials) error {
	_, err := p.get(ctx, creds, "/me/calendars?$top=1")
	return err
}

type graphScheduleView struct {
	Value []struct {
		ScheduleItems []struct {
			Status string `json:"status"`
			Start  struct {
				DateTime string `json:"dateTime"`
			} `json:"start"`
			End struct {
				DateTime string `json:"dateTime"`
			} `json:"end"`
		} `json:"scheduleItems"`
	} `json:"value"`
}

// BusyWindows queries getSchedule for the signed-in mailbox.
func (p *outlook) BusyWindows(ctx context.Context, creds domain.Credentials, from, to time.Time) ([]domain.BusySlot, error) {
	payload := map[string]any{
		"schedules": []string{"me"},
		"startTime": map[string]string{"dateTime": from.UTC().Format("2006-01-02T15:04:05"), "timeZone": "UTC"},
		"endTime":   map[string]string{"dateTime": to.UTC().Format("2006-01-02T15:04:05"), "timeZone": "UTC"},
	}

	body, err := p.post(ctx, creds, "/me/calendar/getSchedule", payload)
	if err != nil {
		return nil, err
	}

	var view graphScheduleView
	if err := decode(body, &view); err != nil {
		return nil, err
	}

	var slots []domain.BusySlot
	for _, schedule := range view.Value {
		for _, item := range schedule.ScheduleItems {
			if item.Status == "free" {
				continue
			}
			start, err := parseGraphTime(item.Start.DateTime)
			if err != nil {
				continue
			}
			end, err := parseGraphTime(item.End.DateTime)
			if err != nil {
				continue
			}
			slots = append(slots, domain.BusySlot{Start: start, End: end})
		}
	}
	return slots, nil
}

// parseGraphTime parses Graph date-times, which carry seven fractional
// digits the reference layout cannot express.
func parseGraphTime(value string) (time.Time, error) {
	if idx := strings.IndexByte(value, '.'); idx >= 0 {
		value = value[:idx]
	}
	t, err := time.Parse("2006-01-02T15:04:05", value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
