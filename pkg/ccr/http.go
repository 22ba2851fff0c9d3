package ccr

import (
	"fmt"
	"net/http/cookiejar"
	"net/url"

	"ccr-client/internal/components/assert"
	"ccr-client/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

func newHttpClient(config Config, tel telemetry.API, name string) (*resty.Client, error) {
	assert.NotNil(tel, "telemetry")
	assert.NotEmptyStr(name, "client name")

	parsedBaseUrl, err := url.Parse(config.BaseUrl)
	if err != nil {
		return nil, err
	}

	httpClient := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	if config.CloudflareBypass {
		httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	}

	if config.UserAgent != "" {
		httpClient.SetHeader("user-agent", config.UserAgent)
	}
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(parsedBaseUrl.Hostname()))
	if config.TimeoutSeconds > 0 {
		httpClient.SetTimeout(config.timeout())
	}

	if config.RequestsPerSecond > 0 {
		// max burst >= 1 just means that no requests will be dropped
		burst := int(config.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		rateLimiter := rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	var output telemetry.MessageOutput
	if config.DumpDir != "" {
		fsOutput, err := telemetry.NewFilesystemOutput(config.DumpDir, name)
		if err != nil {
			return nil, fmt.Errorf("create dump dir: %w", err)
		}
		output = fsOutput
	}
	telemetry.InstrumentResty(httpClient, tel, output)

	return httpClient, nil
}

// checkResponse turns transport errors and non-2xx statuses into ErrNetwork.
func checkResponse(res *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	if res.IsError() || res.StatusCode() < 200 || res.StatusCode() >= 300 {
		return fmt.Errorf("%w: unexpected status %s", ErrNetwork, res.Status())
	}
	return nil
}
