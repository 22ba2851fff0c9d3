package htmlutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestGetText(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(
		`<select><option value="9" selected="selected">  kde
			</option></select><span class="error">Invalid <b>package</b></span>`,
	))
	require.NoError(t, err)

	text := GetText(doc)
	require.Contains(t, text, "Invalid package")
	require.Equal(t, "kde Invalid package", CleanText(text))
	require.Equal(t, "", GetText(nil))
}

func TestCleanText(t *testing.T) {
	cases := []struct {
		in, expect string
	}{
		{in: "", expect: ""},
		{in: "  lib32 ", expect: "lib32"},
		{in: "a \n\t b", expect: "a b"},
		{in: "multi\u0000media", expect: "multimedia"},
	}
	for _, test := range cases {
		require.Equal(t, test.expect, CleanText(test.in), "input %q", test.in)
	}
}
