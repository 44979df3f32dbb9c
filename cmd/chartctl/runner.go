package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	json "github.com/goccy/go-json"
)

const defaultTimeout = 30 * time.Second

// ErrServer is returned for non-2xx responses.
var ErrServer = errors.New("server error")

// Runner holds the dependencies shared by every command action.
type Runner struct {
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
}

// RunnerOpts configures NewRunner. Zero values fall back to defaults.
type RunnerOpts struct {
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a Runner with the provided options.
func NewRunner(opts RunnerOpts) *Runner {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Runner{httpClient: opts.HTTPClient, logger: opts.Logger, output: opts.Output}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// do sends a request to base+path and decodes a JSON response into out.
// A nil out discards the body.
func (r *Runner) do(ctx context.Context, method, base, path string, query url.Values, body, out any) error {
	u, err := url.Parse(strings.TrimRight(base, "/") + path)
	if err != nil {
		return fmt.Errorf("build url: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	r.logger.Debug("request", "method", method, "url", u.String())
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e apiError
		if derr := json.NewDecoder(resp.Body).Decode(&e); derr != nil || e.Code == "" {
			return fmt.Errorf("%w: %s", ErrServer, resp.Status)
		}
		return fmt.Errorf("%w: %s: %s", ErrServer, e.Code, e.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (r *Runner) writeJSON(data any) error {
	output, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if _, err := fmt.Fprintln(r.output, string(output)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	if _, err := fmt.Fprintf(r.output, format+"\n", args...); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
