// Package servicenow implements the case data source against the
// ServiceNow Table API.
package servicenow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/kbflow/internal/ports/secondary"
)

const (
	caseTable    = "sn_customerservice_case"
	journalTable = "sys_journal_field"

	caseFields = "sys_id,number,short_description,description,close_notes,category,state"
)

// Client is a minimal REST client for ServiceNow table endpoints,
// authenticated with basic auth.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// NewClient creates a ServiceNow client. The base URL is the instance
// root, e.g. https://acme.service-now.com.
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// caseRow is the wire shape of a case record.
type caseRow struct {
	SysID            string `json:"sys_id"`
	Number           string `json:"number"`
	ShortDescription string `json:"short_description"`
	Description      string `json:"description"`
	CloseNotes       string `json:"close_notes"`
	Category         string `json:"category"`
	State            string `json:"state"`
}

// journalRow is the wire shape of a journal entry.
type journalRow struct {
	CreatedOn string `json:"sys_created_on"`
	CreatedBy string `json:"sys_created_by"`
	Value     string `json:"value"`
}

// GetCase retrieves the case record by its number.
func (c *Client) GetCase(ctx context.Context, caseNumber string) (*secondary.CaseDetails, error) {
	params := url.Values{}
	params.Set("sysparm_query", "number="+caseNumber)
	params.Set("sysparm_fields", caseFields)
	params.Set("sysparm_limit", "1")

	var result struct {
		Result []caseRow `json:"result"`
	}
	if err := c.get(ctx, "/api/now/table/"+caseTable, params, &result); err != nil {
		return nil, fmt.Errorf("failed to query case %s: %w", caseNumber, err)
	}
	if len(result.Result) == 0 {
		return nil, fmt.Errorf("case %s not found", caseNumber)
	}

	row := result.Result[0]
	return &secondary.CaseDetails{
		SysID:            row.SysID,
		Number:           row.Number,
		ShortDescription: row.ShortDescription,
		Description:      row.Description,
		CloseNotes:       row.CloseNotes,
		Category:         row.Category,
		State:            row.State,
	}, nil
}

// GetCaseWithJournal retrieves the case together with its work-note
// journal entries, oldest first.
func (c *Client) GetCaseWithJournal(ctx context.Context, caseNumber string) (*secondary.CaseData, error) {
	details, err := c.GetCase(ctx, caseNumber)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("sysparm_query", "element_id="+details.SysID+"^element=work_notes^ORDERBYsys_created_on")
	params.Set("sysparm_fields", "sys_created_on,sys_created_by,value")

	var result struct {
		Result []journalRow `json:"result"`
	}
	if err := c.get(ctx, "/api/now/table/"+journalTable, params, &result); err != nil {
		return nil, fmt.Errorf("failed to query journal for case %s: %w", caseNumber, err)
	}

	journal := make([]secondary.JournalEntry, len(result.Result))
	for i, row := range result.Result {
		journal[i] = secondary.JournalEntry{
			CreatedOn: row.CreatedOn,
			CreatedBy: row.CreatedBy,
			Value:     row.Value,
		}
	}

	return &secondary.CaseData{Case: details, Journal: journal}, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("servicenow returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Ensure Client implements the interface
var _ secondary.CaseSource = (*Client)(nil)
