package ccr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	"ccr-client/internal/components/assert"
	"ccr-client/internal/components/telemetry"

	"github.com/go-resty/resty/v2"
)

const (
	report_query_rpc         = "query.rpc"
	report_query_search      = "query.search"
	report_query_info        = "query.info"
	report_query_msearch     = "query.msearch"
	report_query_latest      = "query.latest"
	report_query_package_url = "query.package-url"
)

const (
	rpcSearch  = "search"
	rpcInfo    = "info"
	rpcMsearch = "msearch"
	rpcLatest  = "getlatest"
)

const (
	noResult      = "No result found"
	DefaultLatest = 10
	// OrphanMaintainer is what the service uses as the maintainer of orphaned packages.
	OrphanMaintainer = "0"
)

// Client performs the read-only queries of the RPC endpoint, it needs no login.
type Client struct {
	config Config
	http   *resty.Client
	tel    telemetry.API
	// closed is the owning session's flag, nil for standalone clients.
	closed *atomic.Bool
}

// NewClient creates a query client. A nil `tel` logs through log/slog.
func NewClient(config Config, tel Telemetry) (*Client, error) {
	config, err := config.WithDefaults()
	if err != nil {
		return nil, err
	}
	err = config.Validate()
	if err != nil {
		return nil, err
	}

	scoped := telemetry.NewScopedAPI("ccr_query", defaultTelemetry(tel))
	httpClient, err := newHttpClient(config, scoped, "query")
	if err != nil {
		return nil, err
	}
	return newClient(config, httpClient, scoped), nil
}

func newClient(config Config, httpClient *resty.Client, tel telemetry.API) *Client {
	assert.NotNil(httpClient, "http client")
	assert.NotNil(tel, "telemetry")
	return &Client{config: config, http: httpClient, tel: tel}
}

func (c *Client) Config() Config {
	return c.config
}

type rpcResponse struct {
	Type    string          `json:"type"`
	Results json.RawMessage `json:"results"`
}

// rpc calls the RPC endpoint and returns the records in `results`, `found` is false when the
// service answered "No result found".
func (c *Client) rpc(ctx context.Context, method, arg string) (records []PackageRecord, found bool, err error) {
	if c.closed != nil && c.closed.Load() {
		return nil, false, ErrSessionClosed
	}
	c.tel.ReportDebug(report_query_rpc, method, arg)

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"type": method,
			"arg":  arg,
		}).
		Get(c.config.RpcUrl())
	err = checkResponse(res, err)
	if err != nil {
		return nil, false, err
	}

	var body rpcResponse
	err = json.Unmarshal(res.Body(), &body)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %w", ErrInvalidResponse, method, err)
	}
	// the service reports "No result found" with type "error" too
	if body.Type == "error" && !isNoResult(body.Results) {
		return nil, false, fmt.Errorf("%w: %s: service error %s", ErrInvalidResponse, method, string(body.Results))
	}
	return decodeResults(method, body.Results)
}

func isNoResult(raw json.RawMessage) bool {
	var message string
	err := json.Unmarshal(raw, &message)
	return err == nil && message == noResult
}

func decodeResults(method string, raw json.RawMessage) ([]PackageRecord, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false, fmt.Errorf("%w: %s: missing results", ErrInvalidResponse, method)
	}

	var records []PackageRecord
	switch raw[0] {
	case '"':
		var message string
		err := json.Unmarshal(raw, &message)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %s: %w", ErrInvalidResponse, method, err)
		}
		if message == noResult {
			return []PackageRecord{}, false, nil
		}
		return nil, false, fmt.Errorf("%w: %s: unexpected message %q", ErrInvalidResponse, method, message)
	case '{':
		var record PackageRecord
		err := json.Unmarshal(raw, &record)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %s: %w", ErrInvalidResponse, method, err)
		}
		records = []PackageRecord{record}
	case '[':
		err := json.Unmarshal(raw, &records)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %s: %w", ErrInvalidResponse, method, err)
		}
		if records == nil {
			records = []PackageRecord{}
		}
	default:
		return nil, false, fmt.Errorf("%w: %s: unexpected results %s", ErrInvalidResponse, method, string(raw))
	}

	for _, record := range records {
		err := record.Validate()
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", method, err)
		}
	}
	return records, true, nil
}

func (c *Client) list(ctx context.Context, report, method, arg string) ([]PackageRecord, error) {
	records, _, err := c.rpc(ctx, method, arg)
	if err != nil {
		c.tel.ReportBroken(report, err, arg)
		return nil, err
	}
	c.tel.ReportCount(report, int64(len(records)))
	return records, nil
}

// Search returns the packages matching `keywords` in the order the service gave them, or an
// empty slice when nothing matched.
func (c *Client) Search(ctx context.Context, keywords string) ([]PackageRecord, error) {
	return c.list(ctx, report_query_search, rpcSearch, keywords)
}

// MaintainerSearch returns the packages maintained by `maintainer`.
func (c *Client) MaintainerSearch(ctx context.Context, maintainer string) ([]PackageRecord, error) {
	return c.list(ctx, report_query_msearch, rpcMsearch, maintainer)
}

func (c *Client) Orphans(ctx context.Context) ([]PackageRecord, error) {
	return c.MaintainerSearch(ctx, OrphanMaintainer)
}

// Latest returns the `n` most recently changed packages, n <= 0 means DefaultLatest.
func (c *Client) Latest(ctx context.Context, n int) ([]PackageRecord, error) {
	if n <= 0 {
		n = DefaultLatest
	}
	return c.list(ctx, report_query_latest, rpcLatest, strconv.Itoa(n))
}

// Info returns the package named `name`, ErrPackageNotFound when there is none.
func (c *Client) Info(ctx context.Context, name string) (PackageRecord, error) {
	records, found, err := c.rpc(ctx, rpcInfo, name)
	if err != nil {
		c.tel.ReportBroken(report_query_info, err, name)
		return PackageRecord{}, err
	}
	if !found || len(records) == 0 {
		return PackageRecord{}, fmt.Errorf("%w: %s", ErrPackageNotFound, name)
	}
	if len(records) == 1 {
		return records[0], nil
	}
	for _, record := range records {
		if record.Name == name {
			return record, nil
		}
	}
	c.tel.ReportWarning(report_query_info, "several records and none named after the package", name, len(records))
	return PackageRecord{}, fmt.Errorf("%w: %s: %d records, none named after it", ErrPackageNotFound, name, len(records))
}

// PackageUrl resolves `name` and returns the url of its page.
func (c *Client) PackageUrl(ctx context.Context, name string) (string, error) {
	record, err := c.Info(ctx, name)
	if err != nil {
		return "", err
	}
	pageUrl := c.config.PackagePageUrl(record.ID)
	c.tel.ReportDebug(report_query_package_url, name, pageUrl)
	return pageUrl, nil
}
