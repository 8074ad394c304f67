package probe

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// Title extracts the <title> content from raw HTML bytes. Error pages
// usually put the useful detail there ("403 Forbidden", "Attention
// Required! | Cloudflare").
func Title(body []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "title" {
				if tokenizer.Next() == html.TextToken {
					return strings.TrimSpace(string(tokenizer.Text()))
				}
				return ""
			}
		}
	}
}
