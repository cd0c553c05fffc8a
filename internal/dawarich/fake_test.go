package dawarich

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/goccy/go-json"
)

// fakeDawarich imitates the pages and endpoints of a Dawarich instance that
// the import sequence touches.
type fakeDawarich struct {
	srv *httptest.Server

	mu               sync.Mutex
	version          string
	password         string
	omitImportToken  bool
	useMetaToken     bool
	directUploadCode int

	loginPosts  int
	blobs       []map[string]any
	uploaded    []byte
	uploadHdr   http.Header
	imports     []url.Values
	importCType string
	step3Hdr    http.Header
}

func newFakeDawarich(t *testing.T) *fakeDawarich {
	t.Helper()
	f := &fakeDawarich{version: "0.30.0", password: "secret", useMetaToken: true}
	mux := http.NewServeMux()
	mux.HandleFunc("/users/sign_in", f.signIn)
	mux.HandleFunc("/", f.home)
	mux.HandleFunc("/imports/new", f.importForm)
	mux.HandleFunc("/rails/active_storage/direct_uploads", f.directUpload)
	mux.HandleFunc("/rails/active_storage/disk/blob-key", f.putBlob)
	mux.HandleFunc("/imports", f.createImport)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeDawarich) options() Options {
	return Options{
		Host:               f.srv.URL,
		Email:              "me@example.com",
		Password:           "secret",
		LoginFailureMarker: "Invalid Email or password",
		ImportSource:       "gpx",
	}
}

func (f *fakeDawarich) logins() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginPosts
}

func signedIn(r *http.Request) bool {
	c, err := r.Cookie("_dawarich_session")
	return err == nil && c.Value == "ok"
}

func (f *fakeDawarich) signIn(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		fmt.Fprint(w, `<html><body><form action="/users/sign_in" method="post">
<input type="hidden" name="authenticity_token" value="login-token">
<input name="user[email]"><input name="user[password]" type="password">
</form></body></html>`)
		return
	}

	f.mu.Lock()
	f.loginPosts++
	password := f.password
	f.mu.Unlock()

	r.ParseForm()
	if r.PostForm.Get("authenticity_token") != "login-token" {
		http.Error(w, "Can't verify CSRF token authenticity.", http.StatusUnprocessableEntity)
		return
	}
	if r.PostForm.Get("user[password]") != password {
		fmt.Fprint(w, `<html><body><div class="alert">Invalid Email or password.</div></body></html>`)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "_dawarich_session", Value: "ok", Path: "/"})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (f *fakeDawarich) home(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !signedIn(r) {
		http.Redirect(w, r, "/users/sign_in", http.StatusFound)
		return
	}
	f.mu.Lock()
	version := f.version
	f.mu.Unlock()

	link := ""
	if version != "" {
		link = fmt.Sprintf(`<a href="https://github.com/Freika/dawarich/releases/tag/%s" class="badge">%s</a>`, version, version)
	}
	fmt.Fprintf(w, `<html><body><nav><a href="/map">Map</a>%s</nav></body></html>`, link)
}

func (f *fakeDawarich) importForm(w http.ResponseWriter, r *http.Request) {
	if !signedIn(r) {
		http.Redirect(w, r, "/users/sign_in", http.StatusFound)
		return
	}
	f.mu.Lock()
	omit, meta := f.omitImportToken, f.useMetaToken
	f.mu.Unlock()

	head, input := "", ""
	switch {
	case omit:
	case meta:
		head = `<meta name="csrf-token" content="import-token">`
	default:
		input = `<input type="hidden" name="authenticity_token" value="import-token">`
	}
	fmt.Fprintf(w, `<html><head>%s</head><body>
<form action="/imports" method="post" enctype="multipart/form-data" data-controller="direct-upload" data-direct-upload-url-value="/rails/active_storage/direct_uploads">%s
<input type="file" name="import[files][]">
</form></body></html>`, head, input)
}

func (f *fakeDawarich) directUpload(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.step3Hdr = r.Header.Clone()
	if f.directUploadCode != 0 {
		http.Error(w, `{"error":"unprocessable"}`, f.directUploadCode)
		return
	}
	if !signedIn(r) || r.Header.Get("X-CSRF-Token") != "import-token" {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var payload struct {
		Blob map[string]any `json:"blob"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.blobs = append(f.blobs, payload.Blob)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"signed_id": "signed-blob-123",
		"direct_upload": map[string]any{
			"url":     f.srv.URL + "/rails/active_storage/disk/blob-key",
			"headers": map[string]string{"Content-Type": "application/gpx+xml"},
		},
	})
}

func (f *fakeDawarich) putBlob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method", http.StatusMethodNotAllowed)
		return
	}
	data, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.uploaded = data
	f.uploadHdr = r.Header.Clone()
	f.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeDawarich) createImport(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		fmt.Fprint(w, `<html><body>Imports</body></html>`)
		return
	}

	ctype, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var values url.Values
	if ctype == "multipart/form-data" {
		_, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		form, err := multipart.NewReader(r.Body, params["boundary"]).ReadForm(1 << 20)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		values = url.Values(form.Value)
	} else {
		r.ParseForm()
		values = r.PostForm
	}

	f.mu.Lock()
	f.importCType = ctype
	f.imports = append(f.imports, values)
	f.mu.Unlock()

	if values.Get("authenticity_token") != "import-token" {
		http.Error(w, "bad token", http.StatusUnprocessableEntity)
		return
	}
	http.Redirect(w, r, "/imports", http.StatusFound)
}
