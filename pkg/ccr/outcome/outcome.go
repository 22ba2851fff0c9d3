// Package outcome reads the result of an action out of the markup the CCR answers with.
//
// The service does not report whether an action was applied, so every action is confirmed
// by looking for a marker in the page rendered afterwards. Each marker has exactly one
// classifier here.
package outcome

import (
	"bytes"
	"fmt"
	"strings"

	"ccr-client/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const (
	// OrphanUID is the MaintainerUID of packages nobody maintains.
	OrphanUID     = "0"
	NotOutOfDate  = "0"
	submittedLink = "pkgbuild_view.php?p="
)

func parse(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	return doc, nil
}

func has(body []byte, selector string) (bool, error) {
	doc, err := parse(body)
	if err != nil {
		return false, err
	}
	return doc.Find(selector).Length() > 0, nil
}

// Voted reports if a package page was rendered for a user that has voted for it, the page
// then offers an "UnVote" button.
func Voted(body []byte) (bool, error) {
	return has(body, ".button[name=do_UnVote]")
}

// Notifying reports if the actions menu offers to disable notifications, which it only does
// once they are enabled.
func Notifying(body []byte) (bool, error) {
	return has(body, "option[value=do_UnNotify]")
}

// NotNotifying is the inverse marker of Notifying, the menu offers to enable notifications.
func NotNotifying(body []byte) (bool, error) {
	return has(body, "option[value=do_Notify]")
}

// CategorySelected reports if the category dropdown of a package page has `category`
// selected.
func CategorySelected(body []byte, category string) (bool, error) {
	doc, err := parse(body)
	if err != nil {
		return false, err
	}
	found := false
	doc.Find("option[selected]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, node := range s.Nodes {
			if htmlutil.GetCleanText(node) == category {
				found = true
				return false
			}
		}
		return true
	})
	return found, nil
}

type Submission struct {
	// Error is the message of the error span, if the page has one.
	Error string
	// Accepted is set when the page links to the PKGBUILD of the submitted package.
	Accepted bool
	// Package is the name from that link.
	Package string
}

// Submitted reads the page the submit endpoint answers with.
func Submitted(body []byte) (Submission, error) {
	doc, err := parse(body)
	if err != nil {
		return Submission{}, err
	}

	var out Submission
	errSpan := doc.Find("span.error").First()
	if errSpan.Length() > 0 {
		out.Error = htmlutil.GetCleanText(errSpan.Nodes[0])
		if out.Error == "" {
			out.Error = "unknown error"
		}
		return out, nil
	}

	link := doc.Find(fmt.Sprintf(`a[href*="%s"]`, submittedLink)).First()
	if link.Length() > 0 {
		out.Accepted = true
		href, _ := link.Attr("href")
		if i := strings.Index(href, submittedLink); i >= 0 {
			out.Package, _, _ = strings.Cut(href[i+len(submittedLink):], "&")
		}
	}
	return out, nil
}

// OutOfDate interprets the OutOfDate field of a package record.
func OutOfDate(value string) bool {
	return value != "" && value != NotOutOfDate
}

// Orphaned interprets the MaintainerUID field of a package record.
func Orphaned(maintainerUID string) bool {
	return maintainerUID == OrphanUID
}

// MaintainedBy reports if the Maintainer field of a package record names `username`.
func MaintainedBy(maintainer, username string) bool {
	return maintainer != "" && maintainer == username
}
