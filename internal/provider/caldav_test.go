// SPDX-License-Identifier: MIT

package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbookings/calsync/internal/domain"
)

const multistatusFixture = `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:response>
    <d:href>/alice/</d:href>
    <d:propstat>
      <d:prop>
        <d:displayname>alice</d:displayname>
        <d:resourcetype><d:collection/></d:resourcetype>
      </d:prop>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/alice/work/</d:href>
    <d:propstat>
      <d:prop>
        <d:displayname>Work</d:displayname>
        <d:resourcetype><d:collection/><c:calendar/></d:resourcetype>
        <d:current-user-privilege-set><d:privilege><d:write/></d:privilege></d:current-user-privilege-set>
      </d:prop>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/alice/holidays/</d:href>
    <d:propstat>
      <d:prop>
        <d:displayname></d:displayname>
        <d:resourcetype><d:collection/><c:calendar/></d:resourcetype>
      </d:prop>
    </d:propstat>
  </d:response>
</d:multistatus>`

func caldavCreds(serverURL string) domain.Credentials {
	return domain.Credentials{ServerURL: serverURL, Username: "alice", Password: "secret"}
}

func TestCalDAVDiscoverCalendars(t *testing.T) {
	var gotDepth, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotDepth = r.Header.Get("Depth")

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "secret", pass)

		w.WriteHeader(http.StatusMultiStatus)
		_, _ = w.Write([]byte(multistatusFixture))
	}))
	defer srv.Close()

	p := newCalDAV(domain.KindCalDAV, srv.Client())
	calendars, err := p.DiscoverCalendars(context.Background(), caldavCreds(srv.URL))
	require.NoError(t, err)

	assert.Equal(t, "PROPFIND", gotMethod)
	assert.Equal(t, "1", gotDepth)

	require.Len(t, calendars, 2, "non-calendar collections are skipped")
	assert.Equal(t, "Work", calendars[0].Name)
	assert.False(t, calendars[0].ReadOnly)
	assert.Equal(t, "holidays", calendars[1].Name, "falls back to the href segment")
	assert.True(t, calendars[1].ReadOnly)
}

func TestCalDAVTestConnectionUsesDepthZero(t *testing.T) {
	var gotDepth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDepth = r.Header.Get("Depth")
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = w.Write([]byte(multistatusFixture))
	}))
	defer srv.Close()

	p := newCalDAV(domain.KindCalDAV, srv.Client())
	require.NoError(t, p.TestConnection(context.Background(), caldavCreds(srv.URL)))
	assert.Equal(t, "0", gotDepth)
}

func TestCalDAVStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   Code
	}{
		{http.StatusUnauthorized, CodeUnauthorized},
		{http.StatusForbidden, CodeUnauthorized},
		{http.StatusNotFound, CodeNotFound},
		{http.StatusTooManyRequests, CodeRateLimited},
		{http.StatusBadGateway, CodeNetworkError},
		{http.StatusTeapot, CodeException},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		}))

		p := newCalDAV(domain.KindCalDAV, srv.Client())
		err := p.TestConnection(context.Background(), caldavCreds(srv.URL))
		require.Error(t, err, "status %d", tt.status)
		assert.Equal(t, tt.want, CodeOf(err), "status %d", tt.status)
		srv.Close()
	}
}

func TestCalDAVValidateConfig(t *testing.T) {
	p := newCalDAV(domain.KindCalDAV, http.DefaultClient)

	require.NoError(t, p.ValidateConfig(caldavCreds("https://dav.example.com")))
	assert.Error(t, p.ValidateConfig(domain.Credentials{Username: "a", Password: "b"}))
	assert.Error(t, p.ValidateConfig(domain.Credentials{ServerURL: "ftp://dav.example.com", Username: "a", Password: "b"}))
	assert.Error(t, p.ValidateConfig(domain.Credentials{ServerURL: "https://dav.example.com"}))
}

func TestCalDAVCalendarHomePerFamily(t *testing.T) {
	creds := caldavCreds("https://host.example.com")

	assert.Equal(t, "https://host.example.com/",
		newCalDAV(domain.KindCalDAV, nil).calendarHome(creds))
	assert.Equal(t, "https://host.example.com/alice/",
		newCalDAV(domain.KindRadicale, nil).calendarHome(creds))
	assert.Equal(t, "https://host.example.com/remote.php/dav/calendars/alice/",
		newCalDAV(domain.KindNextcloud, nil).calendarHome(creds))
}

func TestParseFreeBusy(t *testing.T) {
	payload := []byte("BEGIN:VFREEBUSY\r\n" +
		"FREEBUSY;FBTYPE=BUSY:20260801T090000Z/20260801T100000Z,20260801T130000Z/20260801T140000Z\r\n" +
		"FREEBUSY:garbage\r\n" +
		"END:VFREEBUSY\r\n")

	slots, err := parseFreeBusy(payload)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC), slots[0].Start)
	assert.Equal(t, time.Date(2026, 8, 1, 14, 0, 0, 0, time.UTC), slots[1].End)
}
