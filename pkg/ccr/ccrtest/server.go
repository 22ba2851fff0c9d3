// Package ccrtest runs an in-memory CCR for tests. It speaks just enough of the real
// service's RPC, login, package page and submit endpoints for a Session to work against it.
package ccrtest

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"ccr-client/pkg/ccr"
	"ccr-client/pkg/srcpkg"
)

const (
	ActionLogin  = "login"
	ActionSubmit = "pkgsubmit"
)

// the rpc answers empty lookups the way the service does, as an "error" typed response
const noResult = "No result found"

// Package is the server side state of a package. An empty Maintainer means it is orphaned.
type Package struct {
	ID          int
	Name        string
	Version     string
	Category    int
	Description string
	License     string
	Maintainer  string
	OutOfDate   bool
	Voters      map[string]bool
	Notify      map[string]bool
	Submitted   time.Time
}

func (p Package) clone() Package {
	out := p
	out.Voters = make(map[string]bool, len(p.Voters))
	for k, v := range p.Voters {
		out.Voters[k] = v
	}
	out.Notify = make(map[string]bool, len(p.Notify))
	for k, v := range p.Notify {
		out.Notify[k] = v
	}
	return out
}

type user struct {
	uid      int
	password string
}

type Server struct {
	*httptest.Server

	mutex      sync.Mutex
	users      map[string]user
	sessions   map[string]string
	packages   map[string]*Package
	nextID     int
	nextUID    int
	categories map[string]int

	actions       map[string]int
	requests      int
	ignoreActions bool
	rawRpc        map[string]string
	submitError   string
	failStatus    int
}

func NewServer() *Server {
	s := &Server{
		users:      map[string]user{},
		sessions:   map[string]string{},
		packages:   map[string]*Package{},
		nextID:     1,
		nextUID:    1,
		categories: ccr.DefaultCategories(),
		actions:    map[string]int{},
		rawRpc:     map[string]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ccr/", s.handleLogin)
	mux.HandleFunc("/ccr/rpc.php", s.handleRpc)
	mux.HandleFunc("/ccr/packages.php", s.handlePackages)
	mux.HandleFunc("/ccr/pkgsubmit.php", s.handleSubmit)

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mutex.Lock()
		s.requests++
		failStatus := s.failStatus
		s.mutex.Unlock()

		if failStatus != 0 {
			http.Error(w, http.StatusText(failStatus), failStatus)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	return s
}

func (s *Server) BaseUrl() string {
	return s.URL + "/ccr/"
}

// Config points a client at the server, without rate limiting.
func (s *Server) Config() ccr.Config {
	config := ccr.DefaultConfig()
	config.BaseUrl = s.BaseUrl()
	config.RequestsPerSecond = -1
	config.TimeoutSeconds = 5
	return config
}

func (s *Server) AddUser(username, password string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.users[username] = user{uid: s.nextUID, password: password}
	s.nextUID++
}

// AddPackage stores `p`, assigning it the next free id when it has none. Maintainers that
// were not added with AddUser are registered without a password.
func (s *Server) AddPackage(p Package) Package {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.addPackage(p)
}

func (s *Server) addPackage(p Package) Package {
	if p.ID == 0 {
		p.ID = s.nextID
	}
	if p.ID >= s.nextID {
		s.nextID = p.ID + 1
	}
	if p.Category == 0 {
		p.Category = 1
	}
	if p.Submitted.IsZero() {
		p.Submitted = time.Unix(1400000000+int64(p.ID), 0)
	}
	if _, ok := s.users[p.Maintainer]; p.Maintainer != "" && !ok {
		s.users[p.Maintainer] = user{uid: s.nextUID}
		s.nextUID++
	}
	stored := p.clone()
	s.packages[p.Name] = &stored
	return stored.clone()
}

func (s *Server) Package(name string) (Package, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	p, ok := s.packages[name]
	if !ok {
		return Package{}, false
	}
	return p.clone(), true
}

// Actions counts the POSTs made for an action, by its form field (ex. "do_Adopt",
// "do_ChangeCategory") or ActionLogin / ActionSubmit.
func (s *Server) Actions(field string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.actions[field]
}

// Requests counts every request the server received.
func (s *Server) Requests() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.requests
}

// IgnoreActions makes the server accept actions without applying them.
func (s *Server) IgnoreActions(ignore bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.ignoreActions = ignore
}

// SetRawRpc makes the RPC endpoint answer `body` verbatim for the given type.
func (s *Server) SetRawRpc(method, body string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.rawRpc[method] = body
}

// SetSubmitError makes every submission fail with `message`.
func (s *Server) SetSubmitError(message string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.submitError = message
}

// FailWith makes every endpoint answer with `status`, 0 restores normal behavior.
func (s *Server) FailWith(status int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.failStatus = status
}

// sessionUser is the logged in user of a request, "" when there is none. Callers hold the lock.
func (s *Server) sessionUser(r *http.Request) string {
	cookie, err := r.Cookie(ccr.DefaultSessionCookie)
	if err != nil {
		return ""
	}
	return s.sessions[cookie.Value]
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/ccr/" {
		http.NotFound(w, r)
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if r.Method != http.MethodPost {
		writePage(w, "Home", "<p>Welcome to the CCR.</p>")
		return
	}
	s.actions[ActionLogin]++

	err := r.ParseForm()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	username := r.PostForm.Get("user")
	u, ok := s.users[username]
	if !ok || u.password != r.PostForm.Get("passwd") {
		writePage(w, "Home", "<p><span class='error'>Bad username or password.</span></p>")
		return
	}

	sid := newSessionId()
	s.sessions[sid] = username
	http.SetCookie(w, &http.Cookie{
		Name:     ccr.DefaultSessionCookie,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
	})
	writePage(w, "Home", fmt.Sprintf("<p>Logged-in as: <b>%s</b></p>", escape(username)))
}

func newSessionId() string {
	buf := make([]byte, 16)
	_, err := rand.Read(buf)
	if err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

func (s *Server) record(p *Package) map[string]any {
	maintainerUID := "0"
	var maintainer any
	if p.Maintainer != "" {
		maintainer = p.Maintainer
		maintainerUID = strconv.Itoa(s.users[p.Maintainer].uid)
	}
	outOfDate := "0"
	if p.OutOfDate {
		outOfDate = "1"
	}
	prefix := p.Name
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return map[string]any{
		"ID":             strconv.Itoa(p.ID),
		"Name":           p.Name,
		"Version":        p.Version,
		"CategoryID":     strconv.Itoa(p.Category),
		"Description":    p.Description,
		"URL":            "",
		"URLPath":        fmt.Sprintf("/packages/%s/%s/%s.tar.gz", prefix, p.Name, p.Name),
		"License":        p.License,
		"NumVotes":       len(p.Voters),
		"OutOfDate":      outOfDate,
		"Maintainer":     maintainer,
		"MaintainerUID":  maintainerUID,
		"FirstSubmitted": p.Submitted.Unix(),
		"LastModified":   p.Submitted.Unix(),
	}
}

func (s *Server) sortedPackages(keep func(p *Package) bool) []*Package {
	var out []*Package
	for _, p := range s.packages {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Server) handleRpc(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	method := r.URL.Query().Get("type")
	arg := r.URL.Query().Get("arg")

	if raw, ok := s.rawRpc[method]; ok {
		w.Header().Set("content-type", "application/json")
		w.Write([]byte(raw))
		return
	}

	var results any
	switch method {
	case "info":
		p, ok := s.packages[arg]
		if !ok {
			results = noResult
			break
		}
		results = s.record(p)
	case "search":
		needle := strings.ToLower(arg)
		results = s.records(s.sortedPackages(func(p *Package) bool {
			return strings.Contains(strings.ToLower(p.Name), needle) ||
				strings.Contains(strings.ToLower(p.Description), needle)
		}))
	case "msearch":
		results = s.records(s.sortedPackages(func(p *Package) bool {
			if arg == "0" {
				return p.Maintainer == ""
			}
			return p.Maintainer == arg
		}))
	case "getlatest":
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			writeJson(w, "error", "Invalid number of packages.")
			return
		}
		latest := s.sortedPackages(func(*Package) bool { return true })
		sort.SliceStable(latest, func(i, j int) bool { return latest[i].ID > latest[j].ID })
		if len(latest) > n {
			latest = latest[:n]
		}
		results = s.records(latest)
	default:
		writeJson(w, "error", "Incorrect request type specified.")
		return
	}
	if results == noResult {
		writeJson(w, "error", results)
		return
	}
	writeJson(w, method, results)
}

func (s *Server) records(packages []*Package) any {
	if len(packages) == 0 {
		return noResult
	}
	out := make([]map[string]any, len(packages))
	for i, p := range packages {
		out[i] = s.record(p)
	}
	return out
}

func writeJson(w http.ResponseWriter, method string, results any) {
	w.Header().Set("content-type", "application/json")
	err := json.NewEncoder(w).Encode(map[string]any{
		"type":    method,
		"results": results,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) packageById(id string) *Package {
	n, err := strconv.Atoi(id)
	if err != nil {
		return nil
	}
	for _, p := range s.packages {
		if p.ID == n {
			return p
		}
	}
	return nil
}

var doActions = []string{
	"do_Vote", "do_UnVote",
	"do_Flag", "do_UnFlag",
	"do_Notify", "do_UnNotify",
	"do_Adopt", "do_Disown",
	"do_Delete",
}

func (s *Server) handlePackages(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	err := r.ParseForm()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	username := s.sessionUser(r)

	id := r.URL.Query().Get("ID")
	if id == "" {
		id = r.PostForm.Get("ID")
	}
	p := s.packageById(id)

	if r.Method == http.MethodPost {
		action := r.PostForm.Get("action")
		if action == "do_ChangeCategory" {
			s.actions[action]++
			if username != "" && p != nil && !s.ignoreActions {
				category, err := strconv.Atoi(r.PostForm.Get("category_id"))
				if err == nil {
					p.Category = category
				}
			}
		}
		for _, field := range doActions {
			if r.PostForm.Get(field) == "" {
				continue
			}
			s.actions[field]++
			if username == "" || p == nil || s.ignoreActions {
				continue
			}
			if r.PostForm.Get(fmt.Sprintf("IDs[%d]", p.ID)) == "" {
				continue
			}
			if s.apply(field, p, username, r) {
				writePage(w, "Packages", "<p>The selected packages have been deleted.</p>")
				return
			}
		}
	}

	if p == nil {
		writePage(w, "Packages", "<p>Package details could not be found.</p>")
		return
	}
	writePage(w, p.Name, s.packagePage(p, username))
}

// apply performs an action on `p`, returning true when the package was deleted.
func (s *Server) apply(field string, p *Package, username string, r *http.Request) bool {
	switch field {
	case "do_Vote":
		p.Voters[username] = true
	case "do_UnVote":
		delete(p.Voters, username)
	case "do_Flag":
		p.OutOfDate = true
	case "do_UnFlag":
		p.OutOfDate = false
	case "do_Notify":
		p.Notify[username] = true
	case "do_UnNotify":
		delete(p.Notify, username)
	case "do_Adopt":
		if p.Maintainer == "" {
			p.Maintainer = username
		}
	case "do_Disown":
		if p.Maintainer == username {
			p.Maintainer = ""
		}
	case "do_Delete":
		if _, ok := r.PostForm["confirm_Delete"]; ok {
			delete(s.packages, p.Name)
			return true
		}
	}
	return false
}

func (s *Server) packagePage(p *Package, username string) string {
	var out strings.Builder

	out.WriteString("<div class='box'>\n")
	out.WriteString(fmt.Sprintf("<h2>Package Details: %s %s</h2>\n", escape(p.Name), escape(p.Version)))
	out.WriteString(fmt.Sprintf("<form action='packages.php?ID=%d' method='post'><p>\n", p.ID))
	out.WriteString("<input type='hidden' name='action' value='do_ChangeCategory' />\n")
	out.WriteString("Category: <select name='category_id'>\n")
	names := make([]string, 0, len(s.categories))
	for name := range s.categories {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return s.categories[names[i]] < s.categories[names[j]] })
	for _, name := range names {
		selected := ""
		if s.categories[name] == p.Category {
			selected = " selected='selected'"
		}
		out.WriteString(fmt.Sprintf("<option value='%d'%s>%s</option>\n", s.categories[name], selected, name))
	}
	out.WriteString("</select></p></form>\n")
	maintainer := "None"
	if p.Maintainer != "" {
		maintainer = escape(p.Maintainer)
	}
	out.WriteString(fmt.Sprintf("<p>Maintainer: %s</p>\n<p>Votes: %d</p>\n</div>\n", maintainer, len(p.Voters)))

	if username == "" {
		return out.String()
	}

	out.WriteString("<form action='packages.php' method='post'><div>\n")
	out.WriteString(fmt.Sprintf("<input type='hidden' name='IDs[%d]' value='1' />\n", p.ID))
	out.WriteString(fmt.Sprintf("<input type='hidden' name='ID' value='%d' />\n", p.ID))
	if p.Voters[username] {
		out.WriteString("<input type='submit' class='button' name='do_UnVote' value='UnVote' />\n")
	} else {
		out.WriteString("<input type='submit' class='button' name='do_Vote' value='Vote' />\n")
	}
	out.WriteString("<select name='action'>\n")
	if p.OutOfDate {
		out.WriteString("<option value='do_UnFlag'>UnFlag Out-of-date</option>\n")
	} else {
		out.WriteString("<option value='do_Flag'>Flag Out-of-date</option>\n")
	}
	if p.Notify[username] {
		out.WriteString("<option value='do_UnNotify'>UnNotify</option>\n")
	} else {
		out.WriteString("<option value='do_Notify'>Notify</option>\n")
	}
	switch p.Maintainer {
	case "":
		out.WriteString("<option value='do_Adopt'>Adopt Package</option>\n")
	case username:
		out.WriteString("<option value='do_Disown'>Disown Package</option>\n")
	}
	out.WriteString("</select></div></form>\n")
	return out.String()
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if r.Method != http.MethodPost {
		writePage(w, "Submit", "<p>Upload your source packages here.</p>")
		return
	}
	s.actions[ActionSubmit]++

	err := r.ParseMultipartForm(10 << 20)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	username := s.sessionUser(r)
	if username == "" {
		writePage(w, "Submit", "<p>You must create an account before you can upload packages.</p>")
		return
	}
	if s.submitError != "" {
		writeSubmitError(w, s.submitError)
		return
	}
	if r.PostForm.Get("pkgsubmit") == "" {
		writeSubmitError(w, "Missing pkgsubmit field.")
		return
	}
	category, err := strconv.Atoi(r.PostForm.Get("category"))
	if err != nil || category <= 0 {
		writeSubmitError(w, "Select a category for this package.")
		return
	}

	f, _, err := r.FormFile("pfile")
	if err != nil {
		writeSubmitError(w, "You did not specify a file to upload.")
		return
	}
	defer f.Close()
	info, err := srcpkg.Inspect(f)
	if err != nil {
		writeSubmitError(w, "Invalid package or wrong file type.")
		return
	}
	if s.ignoreActions {
		writePage(w, "Submit", "<p>Upload your source packages here.</p>")
		return
	}

	if existing, ok := s.packages[info.Name]; ok {
		if existing.Maintainer != "" && existing.Maintainer != username {
			writeSubmitError(w, "You are not allowed to overwrite the <b>"+escape(info.Name)+"</b> package.")
			return
		}
		existing.Version = info.FullVersion()
		existing.Category = category
		existing.Description = info.Description
		existing.Maintainer = username
	} else {
		s.addPackage(Package{
			Name:        info.Name,
			Version:     info.FullVersion(),
			Category:    category,
			Description: info.Description,
			Maintainer:  username,
			Voters:      map[string]bool{},
			Notify:      map[string]bool{},
		})
	}

	writePage(w, info.Name, fmt.Sprintf(
		"<div class='box'><h2>Package Details: %s</h2><p><a href='pkgbuild_view.php?p=%s'>View PKGBUILD</a></p></div>",
		escape(info.Name), escape(info.Name),
	))
}

func writeSubmitError(w http.ResponseWriter, message string) {
	writePage(w, "Submit", fmt.Sprintf("<p><span class='error'>%s</span></p>", message))
}

func writePage(w http.ResponseWriter, title, body string) {
	w.Header().Set("content-type", "text/html; charset=UTF-8")
	fmt.Fprintf(
		w,
		"<!DOCTYPE html>\n<html><head><title>CCR (en) - %s</title></head><body><div id='content'>\n%s\n</div></body></html>\n",
		escape(title), body,
	)
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "'", "&#39;", `"`, "&quot;")

func escape(s string) string {
	return escaper.Replace(s)
}
