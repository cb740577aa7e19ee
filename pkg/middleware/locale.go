package middleware

import (
	"net/http"

	"golang.org/x/text/language"

	"github.com/platinummonkey/consolesso/pkg/contextkeys"
)

// Locale negotiates the request's Accept-Language against supported and
// stores the chosen tag for outbound provider calls. The first supported
// tag is the fallback.
func Locale(supported ...string) func(http.Handler) http.Handler {
	tags := make([]language.Tag, 0, len(supported))
	for _, s := range supported {
		if tag, err := language.Parse(s); err == nil {
			tags = append(tags, tag)
		}
	}
	if len(tags) == 0 {
		tags = []language.Tag{language.English}
	}
	matcher := language.NewMatcher(tags)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Accept-Language")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			_, index, confidence := matcher.Match(parseAcceptLanguage(header)...)
			if confidence == language.No {
				index = 0
			}
			base, _ := tags[index].Base()
			ctx := contextkeys.WithLocale(r.Context(), base.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseAcceptLanguage(header string) []language.Tag {
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil {
		return nil
	}
	return tags
}
