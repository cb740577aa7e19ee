// Package redirect validates post-login and post-logout redirect targets
// against an allow-list of hosts.
//
// A Validator never fails: any candidate that is not provably safe is
// replaced with the caller's default, so a rejected URL never tells the
// client which part of it was refused.
//
//	v := redirect.New(redirect.Config{
//		AllowedHosts: []string{"app.example.com", "*.example.org"},
//		AppURL:       "https://sso.example.com",
//	})
//	target := v.Validate(r.URL.Query().Get("redirect_uri"), "/")
package redirect
