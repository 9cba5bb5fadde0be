package server

import (
	"html/template"
	"net/http"
)

// Minimal HTML surfaces: an error page for pre-redirect_uri-validation
// /authorize failures (RFC 6749 §4.1.2.1), and a sign-in form. Both are
// deliberately unstyled — the Non-goals exclude a consent UI beyond
// this, and dex's own pkg/html error page is similarly minimal.
var errorTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<title>Error</title>
<h1>Error</h1>
<p>{{.Message}}</p>
`))

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<title>Sign in</title>
<h1>Sign in</h1>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<form method="POST" action="/login">
  <input type="hidden" name="return_to" value="{{.ReturnTo}}">
  <label>Email <input type="email" name="email" required></label>
  <label>Password <input type="password" name="password" required></label>
  <button type="submit">Sign in</button>
</form>
<hr>
<p>Or continue with:
  <a href="/auth/google?return_to={{.ReturnTo}}">Google</a>
  <a href="/auth/microsoft?return_to={{.ReturnTo}}">Microsoft</a>
  <a href="/auth/facebook?return_to={{.ReturnTo}}">Facebook</a>
  <a href="/auth/x?return_to={{.ReturnTo}}">X</a>
</p>
`))

func (s *Server) renderError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := errorTemplate.Execute(w, struct{ Message string }{message}); err != nil {
		s.logger.Error("failed to render error page", "err", err)
	}
}

func (s *Server) renderLogin(w http.ResponseWriter, returnTo, loginErr string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := loginTemplate.Execute(w, struct{ ReturnTo, Error string }{returnTo, loginErr}); err != nil {
		s.logger.Error("failed to render login page", "err", err)
	}
}
