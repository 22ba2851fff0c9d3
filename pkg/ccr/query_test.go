package ccr

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"ccr-client/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

type rpcServer struct {
	*httptest.Server

	mutex   sync.Mutex
	bodies  map[string]string
	status  int
	queries []url.Values
	raw     []string
}

func newRpcServer(t *testing.T) *rpcServer {
	s := &rpcServer{bodies: map[string]string{}, status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		s.queries = append(s.queries, r.URL.Query())
		s.raw = append(s.raw, r.URL.RawQuery)

		if r.URL.Path != "/ccr/rpc.php" {
			http.NotFound(w, r)
			return
		}
		if s.status != http.StatusOK {
			w.WriteHeader(s.status)
			return
		}
		w.Write([]byte(s.bodies[r.URL.Query().Get("type")]))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *rpcServer) set(method, body string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.bodies[method] = body
}

func (s *rpcServer) setStatus(status int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.status = status
}

func (s *rpcServer) last() (url.Values, string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.queries[len(s.queries)-1], s.raw[len(s.raw)-1]
}

func newTestClient(t *testing.T, s *rpcServer, tel Telemetry) *Client {
	config := DefaultConfig()
	config.BaseUrl = s.URL + "/ccr/"
	config.RequestsPerSecond = -1
	client, err := NewClient(config, tel)
	require.NoError(t, err)
	return client
}

func TestInfo(t *testing.T) {
	s := newRpcServer(t)
	client := newTestClient(t, s, telemetry.NewMemoryAPI())
	ctx := context.Background()

	s.set("info", `{"type":"info","results":{"ID":"2745","Name":"cdrtools"}}`)
	record, err := client.Info(ctx, "cdrtools")
	require.NoError(t, err)
	require.Equal(t, "cdrtools", record.Name)
	require.Equal(t, "2745", record.ID)

	query, _ := s.last()
	require.Equal(t, "info", query.Get("type"))
	require.Equal(t, "cdrtools", query.Get("arg"))

	pageUrl, err := client.PackageUrl(ctx, "cdrtools")
	require.NoError(t, err)
	require.Equal(t, s.URL+"/ccr/packages.php?ID=2745", pageUrl)
}

func TestInfoShapes(t *testing.T) {
	cases := []struct {
		name      string
		body      string
		expectId  string
		expectErr error
	}{
		{name: "object", body: `{"type":"info","results":{"ID":2745,"Name":"cdrtools"}}`, expectId: "2745"},
		{name: "single element array", body: `{"type":"info","results":[{"ID":"2745","Name":"cdrtools"}]}`, expectId: "2745"},
		{
			name:     "array picks the package by name",
			body:     `{"type":"info","results":[{"ID":"1","Name":"cdrtools-git"},{"ID":"2745","Name":"cdrtools"}]}`,
			expectId: "2745",
		},
		{
			name:      "array with none named after the package",
			body:      `{"type":"info","results":[{"ID":"1","Name":"cdrtools-git"},{"ID":"2","Name":"cdrkit"}]}`,
			expectErr: ErrPackageNotFound,
		},
		{name: "no result", body: `{"type":"info","results":"No result found"}`, expectErr: ErrPackageNotFound},
		{name: "no result as error", body: `{"type":"error","results":"No result found"}`, expectErr: ErrPackageNotFound},
		{name: "empty array", body: `{"type":"info","results":[]}`, expectErr: ErrPackageNotFound},
		{name: "missing results", body: `{"type":"info"}`, expectErr: ErrInvalidResponse},
		{name: "null results", body: `{"type":"info","results":null}`, expectErr: ErrInvalidResponse},
		{name: "service error", body: `{"type":"error","results":"Incorrect request type specified."}`, expectErr: ErrInvalidResponse},
		{name: "other string", body: `{"type":"info","results":"Maintenance"}`, expectErr: ErrInvalidResponse},
		{name: "number", body: `{"type":"info","results":42}`, expectErr: ErrInvalidResponse},
		{name: "not json", body: `<html>Service Unavailable</html>`, expectErr: ErrInvalidResponse},
		{name: "record without id", body: `{"type":"info","results":{"Name":"cdrtools"}}`, expectErr: ErrInvalidResponse},
	}

	s := newRpcServer(t)
	client := newTestClient(t, s, telemetry.NewMemoryAPI())

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			s.set("info", test.body)
			record, err := client.Info(context.Background(), "cdrtools")
			if test.expectErr != nil {
				require.ErrorIs(t, err, test.expectErr)
				if errors.Is(test.expectErr, ErrPackageNotFound) {
					require.NotErrorIs(t, err, ErrInvalidResponse)
				} else {
					require.NotErrorIs(t, err, ErrPackageNotFound)
				}
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.expectId, record.ID)
		})
	}
}

func TestSearchShapes(t *testing.T) {
	cases := []struct {
		name      string
		body      string
		expect    []string
		expectErr error
	}{
		{
			name:   "array keeps server order",
			body:   `{"type":"search","results":[{"ID":"2","Name":"b"},{"ID":"1","Name":"a"}]}`,
			expect: []string{"b", "a"},
		},
		{name: "object", body: `{"type":"search","results":{"ID":"1","Name":"a"}}`, expect: []string{"a"}},
		{name: "no result", body: `{"type":"search","results":"No result found"}`, expect: []string{}},
		{name: "no result as error", body: `{"type":"error","results":"No result found"}`, expect: []string{}},
		{name: "empty array", body: `{"type":"search","results":[]}`, expect: []string{}},
		{name: "missing results", body: `{"type":"search"}`, expectErr: ErrInvalidResponse},
		{name: "service error", body: `{"type":"error","results":"Query arg too small"}`, expectErr: ErrInvalidResponse},
		{name: "malformed", body: `{"type":"search","results":[{"ID":"1","Name":"a"},`, expectErr: ErrInvalidResponse},
		{name: "invalid record", body: `{"type":"search","results":[{"ID":"x","Name":"a"}]}`, expectErr: ErrInvalidResponse},
	}

	s := newRpcServer(t)
	client := newTestClient(t, s, telemetry.NewMemoryAPI())

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			s.set("search", test.body)
			s.set("msearch", test.body)

			for _, search := range []func() ([]PackageRecord, error){
				func() ([]PackageRecord, error) { return client.Search(context.Background(), "cd") },
				func() ([]PackageRecord, error) { return client.MaintainerSearch(context.Background(), "alice") },
			} {
				records, err := search()
				if test.expectErr != nil {
					require.ErrorIs(t, err, test.expectErr)
					require.NotErrorIs(t, err, ErrPackageNotFound)
					continue
				}
				require.NoError(t, err)
				require.NotNil(t, records)
				names := make([]string, len(records))
				for i, r := range records {
					names[i] = r.Name
				}
				require.Equal(t, test.expect, names)
			}
		})
	}
}

func TestQueryArguments(t *testing.T) {
	s := newRpcServer(t)
	client := newTestClient(t, s, nil)
	ctx := context.Background()
	empty := `{"type":"x","results":"No result found"}`
	s.set("search", empty)
	s.set("msearch", empty)
	s.set("getlatest", empty)

	_, err := client.Search(ctx, "ls++-git")
	require.NoError(t, err)
	query, raw := s.last()
	require.Equal(t, "ls++-git", query.Get("arg"))
	require.Contains(t, raw, "arg=ls%2B%2B-git")

	_, err = client.Search(ctx, "a&type=info")
	require.NoError(t, err)
	query, _ = s.last()
	require.Equal(t, "search", query.Get("type"))
	require.Equal(t, "a&type=info", query.Get("arg"))

	_, err = client.Orphans(ctx)
	require.NoError(t, err)
	query, _ = s.last()
	require.Equal(t, "msearch", query.Get("type"))
	require.Equal(t, "0", query.Get("arg"))

	_, err = client.Latest(ctx, 0)
	require.NoError(t, err)
	query, _ = s.last()
	require.Equal(t, "getlatest", query.Get("type"))
	require.Equal(t, "10", query.Get("arg"))

	_, err = client.Latest(ctx, 3)
	require.NoError(t, err)
	query, _ = s.last()
	require.Equal(t, "3", query.Get("arg"))
}

func TestQueryNetworkErrors(t *testing.T) {
	s := newRpcServer(t)
	tel := telemetry.NewMemoryAPI()
	client := newTestClient(t, s, tel)

	s.setStatus(http.StatusInternalServerError)
	_, err := client.Info(context.Background(), "cdrtools")
	require.ErrorIs(t, err, ErrNetwork)
	require.NotErrorIs(t, err, ErrPackageNotFound)
	require.NotEmpty(t, tel.Find(telemetry.KindBroken, report_query_info))

	_, err = client.Search(context.Background(), "cd")
	require.ErrorIs(t, err, ErrNetwork)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.Search(ctx, "cd")
	require.ErrorIs(t, err, ErrNetwork)
	require.ErrorIs(t, err, context.Canceled)

	s.Close()
	_, err = client.Latest(context.Background(), 5)
	require.ErrorIs(t, err, ErrNetwork)
}

func TestNewClientRejectsBadConfig(t *testing.T) {
	_, err := NewClient(Config{BaseUrl: "not a url"}, nil)
	require.Error(t, err)

	require.PanicsWithValue(t, "http client must not be nil", func() {
		newClient(DefaultConfig(), nil, telemetry.NewMemoryAPI())
	})
}
