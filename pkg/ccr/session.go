package ccr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"ccr-client/internal/components/assert"
	"ccr-client/internal/components/telemetry"
	"ccr-client/pkg/ccr/outcome"
	"ccr-client/pkg/srcpkg"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
)

const (
	report_session_login        = "session.login"
	report_session_resolve      = "session.resolve"
	report_session_check_vote   = "session.check-vote"
	report_session_action       = "session.action"
	report_session_verify       = "session.verify"
	report_session_set_category = "session.set-category"
	report_session_submit       = "session.submit"
)

type Credentials struct {
	Username   string `validate:"required"`
	Password   string `validate:"required"`
	RememberMe bool
}

// Session is a logged in user of the CCR. Every action resolves the package first, performs
// the action and then confirms it took effect.
//
// A Session must not be used from several goroutines at once.
type Session struct {
	config   Config
	http     *resty.Client
	query    *Client
	username string
	closed   atomic.Bool

	tel telemetry.API
}

// Login authenticates against the CCR. The password is only sent once and is not kept. A
// nil `tel` logs through log/slog.
func Login(ctx context.Context, config Config, creds Credentials, tel Telemetry) (*Session, error) {
	config, err := config.WithDefaults()
	if err != nil {
		return nil, err
	}
	err = config.Validate()
	if err != nil {
		return nil, err
	}
	err = validator.New().Struct(creds)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	scoped := telemetry.NewScopedAPI("ccr_session", defaultTelemetry(tel))
	httpClient, err := newHttpClient(config, scoped, "session")
	if err != nil {
		return nil, err
	}

	rememberMe := "off"
	if creds.RememberMe {
		rememberMe = "on"
	}
	res, err := httpClient.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"user":        creds.Username,
			"passwd":      creds.Password,
			"remember_me": rememberMe,
		}).
		Post(config.base())
	err = checkResponse(res, err)
	if err != nil {
		scoped.ReportBroken(report_session_login, fmt.Errorf("login request: %w", err))
		return nil, err
	}

	baseUrl, err := url.Parse(config.base())
	if err != nil {
		return nil, err
	}
	found := false
	for _, cookie := range httpClient.GetClient().Jar.Cookies(baseUrl) {
		if cookie.Name == config.SessionCookie && cookie.Value != "" {
			found = true
			break
		}
	}
	if !found {
		scoped.ReportWarning(
			report_session_login,
			fmt.Errorf("no %s cookie after login", config.SessionCookie),
			creds.Username,
		)
		return nil, fmt.Errorf("%w: %s", ErrLoginFailed, creds.Username)
	}

	session := &Session{
		config:   config,
		http:     httpClient,
		query:    newClient(config, httpClient, scoped),
		username: creds.Username,
		tel:      scoped,
	}
	session.query.closed = &session.closed
	return session, nil
}

func (s *Session) Username() string {
	return s.username
}

// Query returns a query client sharing the transport (and rate limit) of the session, it
// fails with ErrSessionClosed once the session is closed.
func (s *Session) Query() *Client {
	return s.query
}

// Close releases the transport and forgets the session cookie, every call afterwards fails
// with ErrSessionClosed.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	s.http.SetCookieJar(jar)
	s.http.GetClient().CloseIdleConnections()
	return nil
}

func (s *Session) checkOpen() error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	return nil
}

// resolve fetches the current record of a package. Anything but a network failure is
// reported as ErrPackageNotFound.
func (s *Session) resolve(ctx context.Context, name string) (PackageRecord, error) {
	record, err := s.query.Info(ctx, name)
	if err == nil {
		return record, nil
	}
	if errors.Is(err, ErrInvalidResponse) {
		s.tel.ReportWarning(report_session_resolve, err, name)
		return PackageRecord{}, fmt.Errorf("%w: %w", ErrPackageNotFound, err)
	}
	return PackageRecord{}, err
}

// refetch reads the record again after an action, to confirm it.
func (s *Session) refetch(ctx context.Context, action Action, name string) (PackageRecord, error) {
	record, err := s.query.Info(ctx, name)
	if err != nil {
		s.tel.ReportBroken(report_session_verify, fmt.Errorf("%s: re-fetch: %w", action, err), name)
		return PackageRecord{}, &ActionError{
			Action:  action,
			Package: name,
			Reason:  "could not re-fetch package",
			Err:     err,
		}
	}
	return record, nil
}

func (s *Session) post(ctx context.Context, action Action, record PackageRecord, extra map[string]string) ([]byte, error) {
	assert.NotEmptyStr(record.ID, "package id")
	assert.True(action != ActionSetCategory && action != ActionSubmit, fmt.Sprintf("%s is not a packages.php action", action))

	form := map[string]string{
		fmt.Sprintf("IDs[%s]", record.ID): "1",
		"ID":                              record.ID,
		action.formField():                "1",
	}
	for k, v := range extra {
		form[k] = v
	}

	res, err := s.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(s.config.PackagesUrl())
	err = checkResponse(res, err)
	if err != nil {
		s.tel.ReportBroken(report_session_action, fmt.Errorf("%s: %w", action, err), record.Name)
		return nil, err
	}
	return res.Body(), nil
}

func (s *Session) unconfirmed(action Action, name, reason string, body []byte) error {
	err := &ActionError{
		Action:  action,
		Package: name,
		Reason:  reason,
		Body:    string(body),
	}
	s.tel.ReportWarning(report_session_verify, err)
	return err
}

func alreadyInState(action Action, name, reason string) error {
	return &ActionError{
		Action:         action,
		Package:        name,
		Reason:         reason,
		AlreadyInState: true,
	}
}

func (s *Session) voted(ctx context.Context, record PackageRecord) (bool, error) {
	res, err := s.http.R().
		SetContext(ctx).
		Get(s.config.PackagePageUrl(record.ID))
	err = checkResponse(res, err)
	if err != nil {
		s.tel.ReportBroken(report_session_check_vote, err, record.Name)
		return false, err
	}
	voted, err := outcome.Voted(res.Body())
	if err != nil {
		s.tel.ReportBroken(report_session_check_vote, err, record.Name)
		return false, err
	}
	return voted, nil
}

// CheckVote reports if the logged in user has voted for `pkg`.
func (s *Session) CheckVote(ctx context.Context, pkg string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	record, err := s.resolve(ctx, pkg)
	if err != nil {
		return false, err
	}
	return s.voted(ctx, record)
}

func (s *Session) vote(ctx context.Context, action Action, pkg string, want bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	record, err := s.resolve(ctx, pkg)
	if err != nil {
		return err
	}

	voted, err := s.voted(ctx, record)
	if err != nil {
		return err
	}
	if voted == want {
		if want {
			return alreadyInState(action, pkg, "already voted")
		}
		return alreadyInState(action, pkg, "not voted")
	}

	_, err = s.post(ctx, action, record, nil)
	if err != nil {
		return err
	}

	voted, err = s.voted(ctx, record)
	if err != nil {
		return err
	}
	if voted != want {
		return s.unconfirmed(action, pkg, "vote state did not change", nil)
	}
	return nil
}

func (s *Session) Vote(ctx context.Context, pkg string) error {
	return s.vote(ctx, ActionVote, pkg, true)
}

func (s *Session) Unvote(ctx context.Context, pkg string) error {
	return s.vote(ctx, ActionUnvote, pkg, false)
}

func (s *Session) flag(ctx context.Context, action Action, pkg string, want bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	record, err := s.resolve(ctx, pkg)
	if err != nil {
		return err
	}
	_, err = s.post(ctx, action, record, nil)
	if err != nil {
		return err
	}

	record, err = s.refetch(ctx, action, pkg)
	if err != nil {
		return err
	}
	if outcome.OutOfDate(record.OutOfDate) != want {
		return s.unconfirmed(action, pkg, fmt.Sprintf("OutOfDate is %q", record.OutOfDate), nil)
	}
	return nil
}

// Flag marks `pkg` as out of date.
func (s *Session) Flag(ctx context.Context, pkg string) error {
	return s.flag(ctx, ActionFlag, pkg, true)
}

func (s *Session) Unflag(ctx context.Context, pkg string) error {
	return s.flag(ctx, ActionUnflag, pkg, false)
}

func (s *Session) notify(ctx context.Context, action Action, pkg string, classify func([]byte) (bool, error)) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	record, err := s.resolve(ctx, pkg)
	if err != nil {
		return err
	}
	body, err := s.post(ctx, action, record, nil)
	if err != nil {
		return err
	}

	ok, err := classify(body)
	if err != nil {
		s.tel.ReportBroken(report_session_verify, err, pkg)
		return &ActionError{Action: action, Package: pkg, Reason: "unreadable response", Body: string(body), Err: err}
	}
	if !ok {
		return s.unconfirmed(action, pkg, "notification state did not change", body)
	}
	return nil
}

// Notify subscribes the logged in user to comments on `pkg`.
func (s *Session) Notify(ctx context.Context, pkg string) error {
	return s.notify(ctx, ActionNotify, pkg, outcome.Notifying)
}

func (s *Session) Unnotify(ctx context.Context, pkg string) error {
	return s.notify(ctx, ActionUnnotify, pkg, outcome.NotNotifying)
}

// Adopt makes the logged in user the maintainer of an orphaned package. Packages that have a
// maintainer are refused without sending anything.
func (s *Session) Adopt(ctx context.Context, pkg string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	record, err := s.resolve(ctx, pkg)
	if err != nil {
		return err
	}
	if !outcome.Orphaned(record.MaintainerUID) {
		if outcome.MaintainedBy(record.Maintainer, s.username) {
			return alreadyInState(ActionAdopt, pkg, "already maintained by you")
		}
		s.tel.ReportWarning(report_session_verify, "adopting a maintained package", pkg, record.Maintainer)
		return &ActionError{
			Action:  ActionAdopt,
			Package: pkg,
			Reason:  fmt.Sprintf("already maintained by %s", record.Maintainer),
		}
	}

	_, err = s.post(ctx, ActionAdopt, record, nil)
	if err != nil {
		return err
	}

	record, err = s.refetch(ctx, ActionAdopt, pkg)
	if err != nil {
		return err
	}
	if !outcome.MaintainedBy(record.Maintainer, s.username) {
		return s.unconfirmed(ActionAdopt, pkg, fmt.Sprintf("maintainer is %q", record.Maintainer), nil)
	}
	return nil
}

// Disown gives up maintainership of `pkg`.
func (s *Session) Disown(ctx context.Context, pkg string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	record, err := s.resolve(ctx, pkg)
	if err != nil {
		return err
	}
	_, err = s.post(ctx, ActionDisown, record, nil)
	if err != nil {
		return err
	}

	record, err = s.refetch(ctx, ActionDisown, pkg)
	if err != nil {
		return err
	}
	if !outcome.Orphaned(record.MaintainerUID) {
		return s.unconfirmed(ActionDisown, pkg, fmt.Sprintf("maintainer uid is %q", record.MaintainerUID), nil)
	}
	return nil
}

// Delete removes `pkg` from the CCR, it is confirmed by the package no longer resolving.
func (s *Session) Delete(ctx context.Context, pkg string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	record, err := s.resolve(ctx, pkg)
	if err != nil {
		return err
	}
	// the service only checks that the field is present
	_, err = s.post(ctx, ActionDelete, record, map[string]string{"confirm_Delete": "0"})
	if err != nil {
		return err
	}

	_, err = s.query.Info(ctx, pkg)
	if errors.Is(err, ErrPackageNotFound) {
		return nil
	}
	if err != nil {
		s.tel.ReportBroken(report_session_verify, fmt.Errorf("delete: re-fetch: %w", err), pkg)
		return &ActionError{Action: ActionDelete, Package: pkg, Reason: "could not re-fetch package", Err: err}
	}
	return s.unconfirmed(ActionDelete, pkg, "package still exists", nil)
}

// SetCategory moves `pkg` into `category`, which must be one of Config.Categories.
func (s *Session) SetCategory(ctx context.Context, pkg, category string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	categoryId, err := s.config.CategoryID(category)
	if err != nil {
		return err
	}
	record, err := s.resolve(ctx, pkg)
	if err != nil {
		return err
	}

	res, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("ID", record.ID).
		SetFormData(map[string]string{
			"action":      ActionSetCategory.formField(),
			"category_id": strconv.Itoa(categoryId),
		}).
		Post(s.config.PackagesUrl())
	err = checkResponse(res, err)
	if err != nil {
		s.tel.ReportBroken(report_session_set_category, err, pkg, category)
		return err
	}

	selected, err := outcome.CategorySelected(res.Body(), category)
	if err != nil {
		s.tel.ReportBroken(report_session_set_category, err, pkg)
		return &ActionError{Action: ActionSetCategory, Package: pkg, Reason: "unreadable response", Body: res.String(), Err: err}
	}
	if !selected {
		return s.unconfirmed(ActionSetCategory, pkg, fmt.Sprintf("%s is not selected", category), res.Body())
	}
	return nil
}

// Submit uploads the source tarball at `path` into `category` and returns the name of the
// submitted package.
func (s *Session) Submit(ctx context.Context, path, category string) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	_, err := s.config.CategoryID(category)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return s.SubmitReader(ctx, filepath.Base(path), f, category)
}

// SubmitReader is Submit for a tarball that is not on disk, `filename` is what the upload is
// named.
func (s *Session) SubmitReader(ctx context.Context, filename string, r io.Reader, category string) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	categoryId, err := s.config.CategoryID(category)
	if err != nil {
		return "", err
	}

	archive, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filename, err)
	}
	// the service has the last word on what it accepts, a failed inspection only loses the
	// package name used in errors
	pkgname := uploadName(filename)
	info, err := srcpkg.Inspect(bytes.NewReader(archive))
	if err != nil {
		s.tel.ReportWarning(report_session_submit, fmt.Errorf("inspect %s: %w", filename, err))
	} else {
		pkgname = info.Name
		s.tel.ReportDebug(report_session_submit, filename, info.Name, info.FullVersion(), info.Compression.String())
	}

	res, err := s.http.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{
			"pkgsubmit": "1",
			"category":  strconv.Itoa(categoryId),
		}).
		SetFileReader("pfile", filename, bytes.NewReader(archive)).
		Post(s.config.SubmitUrl())
	err = checkResponse(res, err)
	if err != nil {
		s.tel.ReportBroken(report_session_submit, err, filename)
		return "", err
	}

	submission, err := outcome.Submitted(res.Body())
	if err != nil {
		s.tel.ReportBroken(report_session_submit, err, filename)
		return "", &ActionError{Action: ActionSubmit, Package: pkgname, Reason: "unreadable response", Body: res.String(), Err: err}
	}
	if submission.Error != "" {
		return "", &InvalidPackageError{Message: submission.Error}
	}
	if !submission.Accepted {
		return "", s.unconfirmed(ActionSubmit, pkgname, "no link to the submitted package", res.Body())
	}

	name := submission.Package
	if name == "" {
		name = pkgname
	}
	return name, nil
}

// uploadName guesses a package name from the name of its tarball.
func uploadName(filename string) string {
	name := filepath.Base(filename)
	if i := strings.Index(name, ".src.tar"); i > 0 {
		return name[:i]
	}
	if i := strings.Index(name, ".tar"); i > 0 {
		return name[:i]
	}
	return name
}
