package auth

import (
	"html/template"
	"net/http"
)

type pageInfo struct {
	Title    string
	Message  string
	CanRetry bool
}

func errorPageInfo(c Code, domain string) pageInfo {
	switch c {
	case CodeConfiguration:
		return pageInfo{"Server Configuration Error", "There is a problem with the server configuration. Please contact the administrator.", false}
	case CodeAccessDenied:
		return pageInfo{"Access Denied", "Only students and faculty with official institutional accounts (@" + domain + ") can access this system.", true}
	case CodeVerification:
		return pageInfo{"Verification Error", "The verification token has expired or has already been used.", true}
	case CodeCallback:
		return pageInfo{"Authentication Error", "There was a problem processing your authentication. Please try again.", true}
	}
	return pageInfo{"Authentication Error", "An unexpected error occurred during authentication.", true}
}

func signInMessage(code, domain string) string {
	switch Code(code) {
	case "":
		return ""
	case CodeAccessDenied:
		return "Access denied. Only institutional accounts (@" + domain + ") are allowed."
	case CodeCallback:
		return "There was a problem with the authentication callback."
	case CodeConfiguration:
		return "There is a problem with the server configuration."
	case CodeVerification:
		return "The verification token has expired or has already been used."
	case CodeCredentialsSignin:
		return "Invalid student number or password."
	}
	return "An error occurred during authentication. Please try again."
}

var signInTmpl = template.Must(template.New("signin").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Sign in</title></head>
<body>
<main>
<h1>Sign in</h1>
{{if .Error}}<p role="alert">{{.Error}}</p>{{end}}
{{if .GoogleEnabled}}
<p><a href="/api/auth/signin/google?callbackUrl={{.CallbackURL}}">Sign in with your @{{.Domain}} account</a></p>
{{end}}
<form method="post" action="/api/auth/callback/student-number">
<input type="hidden" name="csrfToken" value="{{.CSRFToken}}">
<input type="hidden" name="callbackUrl" value="{{.CallbackURL}}">
<label>Student number <input name="studentNumber" autocomplete="username" required></label>
<label>Password <input name="password" type="password" autocomplete="current-password" required></label>
<button type="submit">Sign in</button>
</form>
</main>
</body>
</html>
`))

var errorTmpl = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<main>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{if .CanRetry}}<p><a href="/auth/signin">Try again</a></p>{{end}}
<p><a href="/">Back to home</a></p>
</main>
</body>
</html>
`))

type signInView struct {
	CSRFToken     string
	Error         string
	CallbackURL   string
	Domain        string
	GoogleEnabled bool
}

var signOutTmpl = template.Must(template.New("signout").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Sign out</title></head>
<body>
<main>
<h1>Sign out</h1>
<p>Are you sure you want to sign out?</p>
<form method="post" action="/api/auth/signout">
<input type="hidden" name="csrfToken" value="{{.CSRFToken}}">
<button type="submit">Sign out</button>
</form>
</main>
</body>
</html>
`))

type signOutView struct {
	CSRFToken string
}

func render(w http.ResponseWriter, status int, t *template.Template, data any) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	return t.Execute(w, data)
}
