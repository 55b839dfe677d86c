package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"mexcsniper/errkind"
)

// CalendarBaseURL is the public web host the calendar feed is served from,
// distinct from the trading API host per spec §4.1.
const CalendarBaseURL = "https://www.mexc.com"

const calendarPath = "/api/operation/new_coin_calendar"

// GetCalendar implements Client. A block-page or upstream failure returns
// an empty list rather than an error, per spec §4.1's graceful-degradation
// contract that detectors rely on.
func (c *HTTPClient) GetCalendar(ctx context.Context) ([]CalendarEntryDTO, error) {
	body, err := c.call(ctx, "calendar", calendarPath, func() (*http.Request, error) {
		u := CalendarBaseURL + calendarPath
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Referer", CalendarBaseURL+"/")
		req.Header.Set("Origin", CalendarBaseURL)
		return req, nil
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("calendar fetch failed, degrading to empty list")
		return nil, nil
	}

	if isBlockPage(body) {
		c.log.Warn().Str("code", errkind.CodeCloudflareBlock).Msg("calendar endpoint returned a block page")
		return nil, nil
	}

	entries, err := parseCalendar(body)
	if err != nil {
		c.log.Warn().Err(err).Msg("calendar response unparsable, degrading to empty list")
		return nil, nil
	}

	out := entries[:0]
	for _, e := range entries {
		if e.FirstOpenTime > 0 {
			out = append(out, e)
		}
	}
	return out, nil
}

func isBlockPage(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	upper := bytes.ToUpper(trimmed)
	return bytes.HasPrefix(upper, []byte("<!DOCTYPE")) || bytes.HasPrefix(upper, []byte("<HTML"))
}

// parseCalendar handles both documented response shapes: data.data.newCoins
// and data.data.data.
func parseCalendar(body []byte) ([]CalendarEntryDTO, error) {
	var env calendarEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	if len(env.Data.NewCoins) > 0 {
		return env.Data.NewCoins, nil
	}
	return env.Data.Data, nil
}
