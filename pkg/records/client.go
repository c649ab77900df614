// Package records retrieves milk-yield recordings from herd-management
// systems over HTTP.
//
// Herd software vendors expose test-day records through wildly different
// REST APIs, so the client is shaped like a generic extractor: it calls a
// configurable endpoint and pulls days and yields out of the JSON response
// with gjson path expressions. The result is a plain observation slice ready
// for the analysis pipeline.
package records

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dairylab/lactra/pkg/fit"
)

// Client fetches an animal's test-day records from a REST API and extracts
// (day, yield) observations using JSON path expressions.
//
// Example configuration for a herd-management API:
//
//	client := &records.Client{
//	    URL:       "https://api.example-herd.com/animals/{{.Animal}}/testdays",
//	    Headers:   map[string]string{"Authorization": "Bearer {{.Token}}"},
//	    DayPath:   "records.#.dim",
//	    YieldPath: "records.#.milkKg",
//	    TemplateVars: map[string]string{"Token": token},
//	}
type Client struct {
	// URL is the endpoint to call (required). Supports the {{.Animal}}
	// template variable.
	URL string

	// Method is the HTTP method. Defaults to GET.
	Method string

	// Headers are extra request headers; values support template
	// variables like {{.Token}}.
	Headers map[string]string

	// Body is an optional request body template for POST-style APIs.
	// Supported variables: {{.Animal}} plus everything in TemplateVars.
	Body string

	// DayPath is the gjson path to the days-in-milk array, e.g.
	// "records.#.dim".
	DayPath string

	// YieldPath is the gjson path to the daily-yield array; must resolve
	// to the same number of elements as DayPath.
	YieldPath string

	// TemplateVars are custom variables available in URL, Body and
	// Headers templates (tokens, API keys, farm identifiers).
	TemplateVars map[string]string

	// HTTPClient is optional; a 10-second-timeout default is used when nil.
	HTTPClient *http.Client
}

// Fetch retrieves the observations recorded for one animal, sorted by day.
// Duplicate days are kept as-is; the fitter tolerates them.
func (c *Client) Fetch(ctx context.Context, animal string) ([]fit.Observation, error) {
	if c.URL == "" {
		return nil, errors.New("records: URL is required")
	}
	if c.DayPath == "" || c.YieldPath == "" {
		return nil, errors.New("records: DayPath and YieldPath are required")
	}
	if animal == "" {
		return nil, errors.New("records: animal is required")
	}

	data := map[string]any{"Animal": animal}
	for k, v := range c.TemplateVars {
		data[k] = v
	}

	url, err := renderTemplate(c.URL, data)
	if err != nil {
		return nil, fmt.Errorf("records: render URL template: %w", err)
	}

	method := c.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if c.Body != "" {
		rendered, err := renderTemplate(c.Body, data)
		if err != nil {
			return nil, fmt.Errorf("records: render body template: %w", err)
		}
		bodyReader = bytes.NewBufferString(rendered)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("records: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range c.Headers {
		rendered, err := renderTemplate(value, data)
		if err != nil {
			return nil, fmt.Errorf("records: render header %s: %w", key, err)
		}
		req.Header.Set(key, rendered)
	}

	cli := c.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("records: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("records: http status %d: %s", resp.StatusCode, string(body))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("records: read response: %w", err)
	}

	days := gjson.GetBytes(respBody, c.DayPath)
	yields := gjson.GetBytes(respBody, c.YieldPath)

	if !days.Exists() {
		return nil, fmt.Errorf("records: day path %q not found in response", c.DayPath)
	}
	if !yields.Exists() {
		return nil, fmt.Errorf("records: yield path %q not found in response", c.YieldPath)
	}

	dayArr := days.Array()
	yieldArr := yields.Array()
	if len(dayArr) != len(yieldArr) {
		return nil, fmt.Errorf("records: day count (%d) != yield count (%d)", len(dayArr), len(yieldArr))
	}

	obs := make([]fit.Observation, 0, len(dayArr))
	for i := range dayArr {
		day := int(dayArr[i].Int())
		if day < 0 {
			return nil, fmt.Errorf("records: record %d has negative day %d", i, day)
		}
		obs = append(obs, fit.Observation{Day: day, Yield: yieldArr[i].Float()})
	}

	sort.Slice(obs, func(i, j int) bool { return obs[i].Day < obs[j].Day })

	return obs, nil
}

// renderTemplate expands a text template when it contains template syntax;
// plain strings pass through untouched.
func renderTemplate(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	tmpl, err := template.New("").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
