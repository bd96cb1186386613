package rowlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"
)

// The published-sheet endpoint wraps its JSON payload in a JSONP envelope:
//
//	/*O_o*/
//	google.visualization.Query.setResponse({...});
var jsonpEnvelopeRe = regexp.MustCompile(`(?s)google\.visualization\.Query\.setResponse\((.*)\);`)

// SheetSource reads the row log from a published spreadsheet's query
// endpoint. The endpoint serves the entire sheet on every request.
type SheetSource struct {
	// URL is the full query endpoint including spreadsheet id and sheet name.
	URL string

	// Client is the HTTP client used for polling. Defaults to one with a
	// 30 second timeout.
	Client *http.Client
}

// NewSheetSource builds a source for the given spreadsheet id and sheet tab.
func NewSheetSource(spreadsheetID, sheetName string) *SheetSource {
	return &SheetSource{
		URL: fmt.Sprintf(
			"https://docs.google.com/spreadsheets/d/%s/gviz/tq?tqx=out:json&sheet=%s",
			spreadsheetID, sheetName),
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

// sheetResponse mirrors the subset of the query response we consume.
type sheetResponse struct {
	Status string `json:"status"`
	Errors []struct {
		DetailedMessage string `json:"detailed_message"`
	} `json:"errors"`
	Table struct {
		Rows []struct {
			C []*sheetCell `json:"c"`
		} `json:"rows"`
	} `json:"table"`
}

type sheetCell struct {
	V any `json:"v"`
}

// ReadAll fetches and unwraps the full sheet. The first returned row is the
// export's header row; downstream filtering drops it via Row.IsHeader.
func (s *SheetSource) ReadAll(ctx context.Context) ([]Row, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build sheet request: %w", err)
	}

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sheet: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch sheet: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read sheet response: %w", err)
	}

	return parseSheetPayload(body)
}

// parseSheetPayload unwraps the JSONP envelope and flattens cells to strings.
func parseSheetPayload(body []byte) ([]Row, error) {
	m := jsonpEnvelopeRe.FindSubmatch(body)
	if m == nil {
		return nil, fmt.Errorf("sheet response is not a query envelope; is the sheet published to web?")
	}

	var payload sheetResponse
	if err := json.Unmarshal(m[1], &payload); err != nil {
		return nil, fmt.Errorf("decode sheet payload: %w", err)
	}

	if payload.Status == "error" {
		msg := "unknown error"
		if len(payload.Errors) > 0 {
			msg = payload.Errors[0].DetailedMessage
		}
		return nil, fmt.Errorf("sheet query error: %s", msg)
	}

	var rows []Row
	for _, r := range payload.Table.Rows {
		row := make(Row, 0, len(r.C))
		for _, cell := range r.C {
			row = append(row, cellString(cell))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func cellString(cell *sheetCell) string {
	if cell == nil || cell.V == nil {
		return ""
	}
	switch v := cell.V.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", v)
	}
}
